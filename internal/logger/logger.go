package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the console handler.
type SlogConfig struct {
	Level      Level  `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     Format `mapstructure:"format" validate:"omitempty,oneof=text json"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
}

// FileConfig adds a rotating log file next to the console output.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the logging section of the application configuration.
type Config struct {
	Slog SlogConfig `mapstructure:",squash"`
	File FileConfig `mapstructure:",squash"`
}

func DefaultConfig() Config {
	return Config{
		Slog: SlogConfig{
			Level:      LevelInfo,
			Format:     FormatText,
			Color:      true,
			TimeStamps: true,
		},
	}
}

// SlogLevel maps the configured level name, defaulting to info.
func (c SlogConfig) SlogLevel() slog.Level {
	switch Level(strings.ToLower(string(c.Level))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FileWriter returns the rotating file writer, or nil when no file is set.
func (c Config) FileWriter() io.WriteCloser {
	if c.File.Path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   c.File.Path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

// NewSlogger builds a logger writing to stderr and, when File.Path is set,
// to the rotating file as well. The file never receives color codes.
func (c Config) NewSlogger() *slog.Logger {
	l, _ := c.NewSloggerTo(os.Stderr)
	return l
}

// NewSloggerTo is NewSlogger with an explicit console writer. The returned
// closer releases the log file and is never nil.
func (c Config) NewSloggerTo(console io.Writer) (*slog.Logger, io.Closer) {
	var handlers []slog.Handler
	if console != nil {
		handlers = append(handlers, c.handler(console, c.Slog.Color))
	}
	var closer io.Closer = nopCloser{}
	if fw := c.FileWriter(); fw != nil {
		handlers = append(handlers, c.handler(fw, false))
		closer = fw
	}
	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closer
	case 1:
		return slog.New(handlers[0]), closer
	default:
		return slog.New(fanout(handlers)), closer
	}
}

func (c Config) handler(w io.Writer, color bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     c.Slog.SlogLevel(),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	if c.Slog.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	if color {
		return NewColorTextHandler(w, opts, c.Slog.TimeStamps)
	}
	return slog.NewTextHandler(w, opts)
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
