// Package app wires the run controller, the history store and the sinks
// into one session with a single teardown path.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/scanrun/internal/command"
	"github.com/loykin/scanrun/internal/config"
	"github.com/loykin/scanrun/internal/console"
	"github.com/loykin/scanrun/internal/history"
	"github.com/loykin/scanrun/internal/metrics"
	"github.com/loykin/scanrun/internal/run"
	"github.com/loykin/scanrun/internal/server"
	"github.com/loykin/scanrun/internal/tls"
)

// Options are the process-level dependencies of an App.
type Options struct {
	Out  io.Writer // scan output; default os.Stdout
	Info io.Writer // status, progress and logs; default os.Stderr
	// Logger overrides the logger built from the log configuration.
	Logger *slog.Logger
	// Registerer receives the collectors; default prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// App is one scanning session.
type App struct {
	Config     config.Config
	Log        *slog.Logger
	Controller *run.Controller
	History    *history.Store
	Hub        *server.Hub
	Printer    *console.Printer

	out, info io.Writer
	logCloser io.Closer
	once      sync.Once
}

// New builds a session from cfg and loads the saved history.
func New(cfg config.Config, o Options) (*App, error) {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Info == nil {
		o.Info = os.Stderr
	}
	log := o.Logger
	var closer io.Closer = io.NopCloser(nil)
	if log == nil {
		log, closer = cfg.Log.NewSloggerTo(o.Info)
	}

	reg := o.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := metrics.Register(reg); err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	path, err := cfg.HistoryPath()
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("history path: %w", err)
	}
	store := history.New(path, history.WithLimit(cfg.History.Limit), history.WithLogger(log))
	store.Load()

	printer := console.NewPrinter(o.Out, o.Info)
	hub := server.NewHub(0, log)
	ctrl := run.NewController(run.MultiSink{printer, hub}, store, cfg.RunOptions(log))

	return &App{
		Config:     cfg,
		Log:        log,
		Controller: ctrl,
		History:    store,
		Hub:        hub,
		Printer:    printer,
		out:        o.Out,
		info:       o.Info,
		logCloser:  closer,
	}, nil
}

// Build turns scan options into a descriptor for the configured scanner.
func (a *App) Build(o command.Options) (command.Descriptor, error) {
	return command.Build(a.Config.Scanner.Executable, o)
}

// StartScan builds o and starts it on the controller.
func (a *App) StartScan(o command.Options) error {
	d, err := a.Build(o)
	if err != nil {
		return err
	}
	return a.Controller.Start(d, o.Target)
}

// RunScan starts o and blocks until it ends. When ctx is done first the
// scan is cancelled and its cancelled status is returned.
func (a *App) RunScan(ctx context.Context, o command.Options) (run.Status, error) {
	if err := a.StartScan(o); err != nil {
		return run.Status{}, err
	}
	st, err := a.Controller.Wait(ctx)
	if err == nil {
		return st, nil
	}
	a.Controller.Cancel()
	// another caller may be cancelling; wait for its finalize
	return a.Controller.Wait(context.Background())
}

// Router returns the read-only viewer over this session.
func (a *App) Router(opts ...server.RouterOption) *server.Router {
	opts = append([]server.RouterOption{server.WithLogger(a.Log)}, opts...)
	return server.NewRouter(a.Controller, a.History, a.Hub, a.Config.Server.BasePath, opts...)
}

// Serve runs the viewer on the configured address until ctx is done. It
// returns nil immediately when no address is configured.
func (a *App) Serve(ctx context.Context, ready chan<- string) error {
	if a.Config.Server.Listen == "" {
		return nil
	}
	tlsCfg, err := tls.Setup(a.Config.Server.TLS)
	if err != nil {
		return fmt.Errorf("viewer tls: %w", err)
	}
	return a.Router(server.WithTLS(tlsCfg)).Serve(ctx, a.Config.Server.Listen, ready)
}

// ShowHistory writes the saved-runs listing to the output.
func (a *App) ShowHistory() {
	console.WriteHistory(a.out, a.History.List())
}

// Replay writes saved run number (1-based) to the output.
func (a *App) Replay(number int) error {
	rec, err := a.History.Get(number - 1)
	if err != nil {
		return fmt.Errorf("saved scan %d: %w", number, err)
	}
	console.Replay(a.out, a.info, rec)
	return nil
}

// Teardown cancels any active scan, removes the persisted history and
// closes the log file. Only the first call has an effect.
func (a *App) Teardown() {
	a.once.Do(func() {
		a.Controller.Cancel()
		// a concurrent Cancel may still be finalizing into the history
		_, _ = a.Controller.Wait(context.Background())
		a.History.Teardown()
		a.Log.Debug("session torn down")
		if err := a.logCloser.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			a.Log.Warn("closing log file failed", "error", err)
		}
	})
}

// NotifyContext returns a context that is cancelled on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
