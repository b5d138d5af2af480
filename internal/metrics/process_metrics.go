package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	childCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanrun",
			Subsystem: "child",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the running scan process.",
		},
	)
	childMemoryRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanrun",
			Subsystem: "child",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the running scan process.",
		},
	)
	childNumThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanrun",
			Subsystem: "child",
			Name:      "num_threads",
			Help:      "Thread count of the running scan process.",
		},
	)
)

// ProcessSample is one resource reading of the scan process.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sample reads CPU, RSS and thread count for pid.
func Sample(pid int32) (ProcessSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessSample{}, err
	}
	s := ProcessSample{PID: pid, Timestamp: time.Now()}

	// CPU percent may require a previous call for accurate calculation
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	} else {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, err
	}
	s.MemoryRSS = mem.RSS
	if n, err := proc.NumThreads(); err == nil {
		s.NumThreads = n
	}
	return s, nil
}

// SampleProcess publishes resource gauges for pid every interval until the
// returned stop function is called. Stop resets the gauges and is safe to
// call more than once. With interval <= 0 or metrics unregistered it does
// nothing.
func SampleProcess(pid int, interval time.Duration) (stop func()) {
	if interval <= 0 || !regOK.Load() || pid <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s, err := Sample(int32(pid))
				if err != nil {
					slog.Debug("Failed to sample scan process", "pid", pid, "error", err)
					continue
				}
				childCPUPercent.Set(s.CPUPercent)
				childMemoryRSS.Set(float64(s.MemoryRSS))
				childNumThreads.Set(float64(s.NumThreads))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			childCPUPercent.Set(0)
			childMemoryRSS.Set(0)
			childNumThreads.Set(0)
		})
	}
}
