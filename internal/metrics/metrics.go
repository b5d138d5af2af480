package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scanrun",
			Subsystem: "run",
			Name:      "started_total",
			Help:      "Number of scan processes launched.",
		},
	)
	runsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanrun",
			Subsystem: "run",
			Name:      "finished_total",
			Help:      "Number of finished scans by outcome (done, failed, cancelled).",
		}, []string{"outcome"},
	)
	launchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scanrun",
			Subsystem: "run",
			Name:      "launch_failures_total",
			Help:      "Number of scans whose executable could not be started.",
		},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scanrun",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of finished scans.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 600, 1800, 3600},
		}, []string{"outcome"},
	)
	runActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanrun",
			Subsystem: "run",
			Name:      "active",
			Help:      "1 while a scan process is running, 0 otherwise.",
		},
	)
	outputLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scanrun",
			Subsystem: "run",
			Name:      "output_lines_total",
			Help:      "Number of output lines streamed from scan processes.",
		},
	)
	historyEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanrun",
			Subsystem: "history",
			Name:      "entries",
			Help:      "Number of run records currently held in history.",
		},
	)
	historyPersistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanrun",
			Subsystem: "history",
			Name:      "persist_errors_total",
			Help:      "History file read/write failures by operation.",
		}, []string{"op"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		runsStarted, runsFinished, launchFailures, runDuration, runActive, outputLines,
		historyEntries, historyPersistErrors,
		childCPUPercent, childMemoryRSS, childNumThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Enabled reports whether Register has succeeded.
func Enabled() bool { return regOK.Load() }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RunStarted() {
	if regOK.Load() {
		runsStarted.Inc()
	}
}

func RunFinished(outcome string, seconds float64) {
	if regOK.Load() {
		runsFinished.WithLabelValues(outcome).Inc()
		runDuration.WithLabelValues(outcome).Observe(seconds)
	}
}

func LaunchFailed() {
	if regOK.Load() {
		launchFailures.Inc()
	}
}

func SetRunActive(active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1
		}
		runActive.Set(v)
	}
}

func OutputLine() {
	if regOK.Load() {
		outputLines.Inc()
	}
}

func SetHistoryEntries(n int) {
	if regOK.Load() {
		historyEntries.Set(float64(n))
	}
}

func PersistError(op string) {
	if regOK.Load() {
		historyPersistErrors.WithLabelValues(op).Inc()
	}
}
