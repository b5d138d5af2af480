package scanrun

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/scanrun/internal/app"
	"github.com/loykin/scanrun/internal/command"
	"github.com/loykin/scanrun/internal/config"
	"github.com/loykin/scanrun/internal/history"
	"github.com/loykin/scanrun/internal/metrics"
	"github.com/loykin/scanrun/internal/run"
	"github.com/loykin/scanrun/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Descriptor = command.Descriptor

type ScanOptions = command.Options

type Controller = run.Controller

type ControllerOptions = run.Options

type State = run.State

type Status = run.Status

type Snapshot = run.Snapshot

type Sink = run.Sink

type MultiSink = run.MultiSink

type Record = run.Record

type HistoryStore = history.Store

type Config = config.Config

type Session = app.App

type SessionOptions = app.Options

type StreamHub = server.Hub

const (
	StateIdle       = run.StateIdle
	StateRunning    = run.StateRunning
	StateCancelling = run.StateCancelling
	StateDone       = run.StateDone
	StateFailed     = run.StateFailed
)

var (
	ErrRunActive      = run.ErrRunActive
	ErrLaunch         = run.ErrLaunch
	ErrEmptyCommand   = command.ErrEmptyCommand
	ErrEmptyTarget    = command.ErrEmptyTarget
	ErrMalformedArgs  = command.ErrMalformedArgs
	ErrNotFound       = command.ErrNotFound
	ErrHistoryMissing = history.ErrNotFound
	ErrInvalidConfig  = config.ErrInvalid
)

func NewDescriptor(executable string, args ...string) Descriptor {
	return command.New(executable, args...)
}

func DefaultScanOptions() ScanOptions { return command.DefaultOptions() }

// BuildScan resolves executable on PATH and renders o as its arguments.
func BuildScan(executable string, o ScanOptions) (Descriptor, error) {
	return command.Build(executable, o)
}

func DefaultControllerOptions() ControllerOptions { return run.DefaultOptions() }

// NewController returns an idle controller. recorder may be nil or a
// *HistoryStore.
func NewController(sink Sink, recorder run.Recorder, opts ControllerOptions) *Controller {
	return run.NewController(sink, recorder, opts)
}

// NewHistoryStore returns a store bounded to 50 records at path. Call Load
// before use.
func NewHistoryStore(path string) *HistoryStore { return history.New(path) }

func DefaultHistoryPath() (string, error) { return history.DefaultPath() }

func LoadConfig(path string) (Config, error) { return config.Load(path) }

func DefaultConfig() Config { return config.Default() }

// NewSession wires a controller, history store and terminal sink from cfg.
func NewSession(cfg Config, o SessionOptions) (*Session, error) { return app.New(cfg, o) }

// NewStreamHub returns a Sink that feeds the viewer's /stream endpoint. Pass
// it (alone or in a MultiSink) to NewController.
func NewStreamHub() *StreamHub { return server.NewHub(0, nil) }

// NewViewerHandler returns the read-only HTTP viewer over a controller and
// store. hub may be nil to disable /stream. It cannot start scans.
func NewViewerHandler(c *Controller, h *HistoryStore, hub *StreamHub, basePath string) http.Handler {
	return server.NewRouter(c, h, hub, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
