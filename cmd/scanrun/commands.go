package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/loykin/scanrun/internal/app"
	"github.com/loykin/scanrun/internal/command"
	"github.com/loykin/scanrun/internal/config"
	"github.com/loykin/scanrun/internal/console"
	"github.com/loykin/scanrun/internal/history"
	"github.com/loykin/scanrun/internal/logger"
	"github.com/loykin/scanrun/internal/run"
)

// cancelledExitCode is the process exit code of `run` when the scan was
// cancelled by a signal.
const cancelledExitCode = 130

type cli struct {
	global *GlobalFlags
	// appOptions is passed to app.New; tests inject a registry and logger.
	appOptions app.Options
}

// exitError carries the exit code of a scan that did not succeed. main
// exits with it without printing anything further.
type exitError struct {
	code   int
	status run.Status
}

func (e *exitError) Error() string {
	if e.status.Message != "" {
		return fmt.Sprintf("%s (exit code %d)", e.status.Message, e.code)
	}
	return fmt.Sprintf("scan ended with exit code %d", e.code)
}

// loadConfig reads the config file and applies the global overrides.
func (c *cli) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.global.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if c.global.LogLevel != "" {
		cfg.Log.Slog.Level = logger.Level(c.global.LogLevel)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// mergeScan overlays the flags the user actually set onto base.
func mergeScan(base command.Options, f ScanFlags, changed func(string) bool) command.Options {
	o := base
	strs := []struct {
		name string
		dst  *string
		val  string
	}{
		{"url", &o.Target, f.Target},
		{"api-token", &o.APIToken, f.APIToken},
		{"extra-args", &o.ExtraArgs, f.ExtraArgs},
	}
	for _, s := range strs {
		if changed(s.name) {
			*s.dst = s.val
		}
	}
	bools := []struct {
		name string
		dst  *bool
		val  bool
	}{
		{"enumerate-users", &o.EnumerateUsers, f.EnumerateUsers},
		{"enumerate-plugins", &o.EnumeratePlugins, f.EnumeratePlugins},
		{"enumerate-themes", &o.EnumerateThemes, f.EnumerateThemes},
		{"random-user-agent", &o.RandomUserAgent, f.RandomUserAgent},
		{"verbose", &o.Verbose, f.Verbose},
		{"ignore-main-redirect", &o.IgnoreMainRedirect, f.IgnoreMainRedirect},
		{"no-update", &o.NoUpdate, f.NoUpdate},
		{"disable-tls-checks", &o.DisableTLSChecks, f.DisableTLSChecks},
		{"force", &o.Force, f.Force},
		{"no-colour", &o.NoColour, f.NoColour},
	}
	for _, b := range bools {
		if changed(b.name) {
			*b.dst = b.val
		}
	}
	return o
}

// newApp builds the session for cfg with the scan and listen overrides.
func (c *cli) newApp(cfg config.Config, f ScanFlags, listen string, out, info io.Writer) (*app.App, error) {
	if f.Executable != "" {
		cfg.Scanner.Executable = f.Executable
	}
	if listen != "" {
		cfg.Server.Listen = listen
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	o := c.appOptions
	o.Out, o.Info = out, info
	return app.New(cfg, o)
}

// serve starts the viewer in the background when an address is configured.
// The returned function stops it and waits for shutdown.
func serve(ctx context.Context, a *app.App) (stop func()) {
	if a.Config.Server.Listen == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Serve(ctx, nil); err != nil {
			a.Log.Error("viewer stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Run performs one scan in the foreground.
func (c *cli) Run(ctx context.Context, out, info io.Writer, f RunFlags, changed func(string) bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	opts := mergeScan(cfg.Scan, f.Scan, changed)
	a, err := c.newApp(cfg, f.Scan, f.Listen, out, info)
	if err != nil {
		return err
	}
	defer a.Teardown()
	a.Printer.SetQuiet(f.Quiet)

	ctx, stopSignals := app.NotifyContext(ctx)
	defer stopSignals()
	stopServe := serve(ctx, a)
	defer stopServe()

	st, err := a.RunScan(ctx, opts)
	if err != nil {
		return err
	}
	switch {
	case st.Cancelled:
		return &exitError{code: cancelledExitCode, status: st}
	case st.ExitCode != nil && *st.ExitCode != 0:
		return &exitError{code: *st.ExitCode, status: st}
	case st.State == run.StateFailed:
		return &exitError{code: 1, status: st}
	}
	return nil
}

// Session runs the interactive loop until quit, EOF or a signal.
func (c *cli) Session(ctx context.Context, in io.Reader, out, info io.Writer, f SessionFlags, changed func(string) bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	defaults := mergeScan(cfg.Scan, f.Scan, changed)
	a, err := c.newApp(cfg, f.Scan, f.Listen, out, info)
	if err != nil {
		return err
	}
	defer a.Teardown()
	a.Printer.SetQuiet(f.Quiet)

	ctx, stopSignals := app.NotifyContext(ctx)
	defer stopSignals()
	stopServe := serve(ctx, a)
	defer stopServe()

	s := &session{app: a, defaults: defaults, out: out, info: info}
	return s.loop(ctx, in)
}

// openHistory opens the history file of the configured session without
// taking ownership of it. The caller closes the returned log closer.
func (c *cli) openHistory(info io.Writer) (*history.Store, *slog.Logger, io.Closer, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		return nil, nil, nil, err
	}
	log, closer := c.appOptions.Logger, io.Closer(io.NopCloser(nil))
	if log == nil {
		log, closer = cfg.Log.NewSloggerTo(info)
	}
	s := history.New(path, history.WithLimit(cfg.History.Limit), history.WithLogger(log))
	s.Load()
	return s, log, closer, nil
}

func (c *cli) HistoryList(out, info io.Writer) error {
	s, _, closer, err := c.openHistory(info)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	console.WriteHistory(out, s.List())
	return nil
}

func (c *cli) HistoryShow(out, info io.Writer, arg string) error {
	n, err := parseNumber(arg)
	if err != nil {
		return err
	}
	s, _, closer, err := c.openHistory(info)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	rec, err := s.Get(n - 1)
	if err != nil {
		return fmt.Errorf("saved scan %d: %w", n, err)
	}
	console.Replay(out, info, rec)
	return nil
}

func (c *cli) HistoryClear(info io.Writer) error {
	s, log, closer, err := c.openHistory(info)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	s.Clear()
	log.Debug("history cleared", "path", s.Path())
	_, _ = fmt.Fprintln(info, "History cleared.")
	return nil
}

// parseNumber parses a 1-based history entry number.
func parseNumber(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid entry number %q: must be 1 or greater", arg)
	}
	return n, nil
}
