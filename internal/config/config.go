package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/loykin/scanrun/internal/command"
	"github.com/loykin/scanrun/internal/env"
	"github.com/loykin/scanrun/internal/history"
	"github.com/loykin/scanrun/internal/logger"
	"github.com/loykin/scanrun/internal/run"
	"github.com/loykin/scanrun/internal/tls"
)

// EnvPrefix prefixes environment overrides: scanner.executable is read from
// SCANRUN_SCANNER_EXECUTABLE.
const EnvPrefix = "SCANRUN"

var ErrInvalid = errors.New("invalid configuration")

type ScannerConfig struct {
	Executable string `mapstructure:"executable" validate:"required"`
	WorkDir    string `mapstructure:"work_dir" validate:"omitempty,dir"`

	// Env entries are KEY=VALUE overrides on top of the inherited
	// environment; ${KEY} references are expanded.
	Env []string `mapstructure:"env" validate:"dive,contains=="`
}

type RunConfig struct {
	GracePeriod     time.Duration `mapstructure:"grace_period" validate:"gt=0"`
	ProgressCeiling time.Duration `mapstructure:"progress_ceiling" validate:"gt=0"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout" validate:"gt=0"`
	EchoCommand     bool          `mapstructure:"echo_command"`
}

type HistoryConfig struct {
	// Path empty means history.DefaultPath.
	Path  string `mapstructure:"path"`
	Limit int    `mapstructure:"limit" validate:"min=1,max=50"`
}

type ServerConfig struct {
	Listen   string     `mapstructure:"listen" validate:"omitempty,hostname_port"`
	BasePath string     `mapstructure:"base_path" validate:"omitempty,startswith=/"`
	TLS      tls.Config `mapstructure:"tls"`
}

type MetricsConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval" validate:"gte=0"`
}

// Config is the full application configuration.
type Config struct {
	Scanner ScannerConfig   `mapstructure:"scanner"`
	Scan    command.Options `mapstructure:"scan"`
	Run     RunConfig       `mapstructure:"run"`
	History HistoryConfig   `mapstructure:"history"`
	Log     logger.Config   `mapstructure:"log"`
	Server  ServerConfig    `mapstructure:"server"`
	Metrics MetricsConfig   `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scanner.executable", command.DefaultExecutable)
	v.SetDefault("scanner.work_dir", "")
	v.SetDefault("scanner.env", []string{})

	scan := command.DefaultOptions()
	v.SetDefault("scan.target", "")
	v.SetDefault("scan.api_token", "")
	v.SetDefault("scan.enumerate_users", scan.EnumerateUsers)
	v.SetDefault("scan.enumerate_plugins", scan.EnumeratePlugins)
	v.SetDefault("scan.enumerate_themes", scan.EnumerateThemes)
	v.SetDefault("scan.random_user_agent", scan.RandomUserAgent)
	v.SetDefault("scan.verbose", scan.Verbose)
	v.SetDefault("scan.ignore_main_redirect", scan.IgnoreMainRedirect)
	v.SetDefault("scan.no_update", scan.NoUpdate)
	v.SetDefault("scan.disable_tls_checks", scan.DisableTLSChecks)
	v.SetDefault("scan.force", scan.Force)
	v.SetDefault("scan.no_colour", scan.NoColour)
	v.SetDefault("scan.extra_args", "")

	v.SetDefault("run.grace_period", run.DefaultGracePeriod)
	v.SetDefault("run.progress_ceiling", run.DefaultProgressCeiling)
	v.SetDefault("run.drain_timeout", run.DefaultDrainTimeout)
	v.SetDefault("run.echo_command", true)

	v.SetDefault("history.path", "")
	v.SetDefault("history.limit", history.MaxEntries)

	lc := logger.DefaultConfig()
	v.SetDefault("log.level", string(lc.Slog.Level))
	v.SetDefault("log.format", string(lc.Slog.Format))
	v.SetDefault("log.color", lc.Slog.Color)
	v.SetDefault("log.timestamps", lc.Slog.TimeStamps)
	v.SetDefault("log.source", lc.Slog.Source)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.3")
	v.SetDefault("server.tls.hosts", []string{})
	v.SetDefault("server.tls.valid_days", 365)

	v.SetDefault("metrics.sample_interval", 2*time.Second)
}

// Default returns the built-in configuration. It ignores config files and
// SCANRUN_* variables.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("decode defaults: %w", err))
	}
	return cfg
}

// Load reads defaults, then the optional config file at path (format by
// extension), then SCANRUN_* environment variables, and validates the
// result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints. Errors wrap ErrInvalid and list every
// failing key.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// RunOptions maps the run and metrics sections onto controller options.
func (c Config) RunOptions(log *slog.Logger) run.Options {
	return run.Options{
		GracePeriod:     c.Run.GracePeriod,
		ProgressCeiling: c.Run.ProgressCeiling,
		DrainTimeout:    c.Run.DrainTimeout,
		EchoCommand:     c.Run.EchoCommand,
		WorkDir:         c.Scanner.WorkDir,
		Env:             c.ScannerEnv(),
		SampleInterval:  c.Metrics.SampleInterval,
		Logger:          log,
	}
}

// ScannerEnv returns the scanner's environment, or nil to inherit ours
// unchanged.
func (c Config) ScannerEnv() []string {
	if len(c.Scanner.Env) == 0 {
		return nil
	}
	return env.Compose(os.Environ(), c.Scanner.Env)
}

// HistoryPath resolves the configured history file.
func (c Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	return history.DefaultPath()
}
