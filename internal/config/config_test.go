package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/scanrun/internal/command"
	"github.com/loykin/scanrun/internal/history"
	"github.com/loykin/scanrun/internal/logger"
	"github.com/loykin/scanrun/internal/run"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, command.DefaultExecutable, cfg.Scanner.Executable)
	assert.Equal(t, command.DefaultOptions(), cfg.Scan)
	assert.Equal(t, run.DefaultGracePeriod, cfg.Run.GracePeriod)
	assert.Equal(t, run.DefaultProgressCeiling, cfg.Run.ProgressCeiling)
	assert.Equal(t, run.DefaultDrainTimeout, cfg.Run.DrainTimeout)
	assert.True(t, cfg.Run.EchoCommand)
	assert.Equal(t, history.MaxEntries, cfg.History.Limit)
	assert.Equal(t, logger.LevelInfo, cfg.Log.Slog.Level)
	assert.Equal(t, logger.FormatText, cfg.Log.Slog.Format)
	assert.Equal(t, logger.DefaultMaxBackups, cfg.Log.File.MaxBackups)
	assert.Empty(t, cfg.Log.File.Path)
	assert.Empty(t, cfg.Server.Listen)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, 2*time.Second, cfg.Metrics.SampleInterval)

	assert.Equal(t, cfg, Default())
}

func TestDefaultIgnoresEnvironment(t *testing.T) {
	t.Setenv("SCANRUN_LOG_LEVEL", "bogus")
	t.Setenv("SCANRUN_HISTORY_LIMIT", "20")

	var cfg Config
	require.NotPanics(t, func() { cfg = Default() })
	assert.Equal(t, logger.LevelInfo, cfg.Log.Slog.Level)
	assert.Equal(t, history.MaxEntries, cfg.History.Limit)
	assert.NoError(t, cfg.Validate())

	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadYAMLFile(t *testing.T) {
	p := writeFile(t, "scanrun.yaml", `
scanner:
  executable: /opt/wpscan/bin/wpscan
scan:
  enumerate_plugins: true
  random_user_agent: false
  extra_args: "--throttle 200"
run:
  grace_period: 2s
  echo_command: false
history:
  limit: 10
log:
  level: debug
  format: json
  file: /tmp/scanrun.log
  max_size_mb: 5
server:
  listen: 127.0.0.1:8089
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "/opt/wpscan/bin/wpscan", cfg.Scanner.Executable)
	assert.True(t, cfg.Scan.EnumeratePlugins)
	assert.True(t, cfg.Scan.EnumerateUsers, "unset keys keep defaults")
	assert.False(t, cfg.Scan.RandomUserAgent)
	assert.Equal(t, "--throttle 200", cfg.Scan.ExtraArgs)
	assert.Equal(t, 2*time.Second, cfg.Run.GracePeriod)
	assert.False(t, cfg.Run.EchoCommand)
	assert.Equal(t, 10, cfg.History.Limit)
	assert.Equal(t, logger.LevelDebug, cfg.Log.Slog.Level)
	assert.Equal(t, logger.FormatJSON, cfg.Log.Slog.Format)
	assert.Equal(t, "/tmp/scanrun.log", cfg.Log.File.Path)
	assert.Equal(t, 5, cfg.Log.File.MaxSizeMB)
	assert.Equal(t, "127.0.0.1:8089", cfg.Server.Listen)
}

func TestLoadTOMLFile(t *testing.T) {
	p := writeFile(t, "scanrun.toml", `
[run]
progress_ceiling = "10m"

[history]
path = "/var/lib/scanrun/history.json"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Run.ProgressCeiling)

	hp, err := cfg.HistoryPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/scanrun/history.json", hp)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "scanrun.yaml", "history:\n  limit: 10\n")
	t.Setenv("SCANRUN_HISTORY_LIMIT", "20")
	t.Setenv("SCANRUN_SCANNER_EXECUTABLE", "/usr/local/bin/wpscan")
	t.Setenv("SCANRUN_RUN_GRACE_PERIOD", "750ms")
	t.Setenv("SCANRUN_SCAN_API_TOKEN", "secret")
	t.Setenv("SCANRUN_LOG_COLOR", "false")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.History.Limit)
	assert.Equal(t, "/usr/local/bin/wpscan", cfg.Scanner.Executable)
	assert.Equal(t, 750*time.Millisecond, cfg.Run.GracePeriod)
	assert.Equal(t, "secret", cfg.Scan.APIToken)
	assert.False(t, cfg.Log.Slog.Color)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{"limit too high", map[string]string{"SCANRUN_HISTORY_LIMIT": "51"}, "Limit"},
		{"limit zero", map[string]string{"SCANRUN_HISTORY_LIMIT": "0"}, "Limit"},
		{"zero grace", map[string]string{"SCANRUN_RUN_GRACE_PERIOD": "0s"}, "GracePeriod"},
		{"bad level", map[string]string{"SCANRUN_LOG_LEVEL": "loud"}, "Level"},
		{"bad format", map[string]string{"SCANRUN_LOG_FORMAT": "xml"}, "Format"},
		{"bad listen", map[string]string{"SCANRUN_SERVER_LISTEN": "nope"}, "Listen"},
		{"bad base path", map[string]string{"SCANRUN_SERVER_BASE_PATH": "api"}, "BasePath"},
		{"missing work dir", map[string]string{"SCANRUN_SCANNER_WORK_DIR": "/does/not/exist/anywhere"}, "WorkDir"},
		{"env entry without equals", map[string]string{"SCANRUN_SCANNER_ENV": "NOEQUALS"}, "Env"},
		{"tls cert without key", map[string]string{"SCANRUN_SERVER_TLS_CERT_FILE": "/tmp/a.crt"}, "KeyFile"},
		{"tls old version", map[string]string{"SCANRUN_SERVER_TLS_MIN_VERSION": "1.0"}, "MinVersion"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Setenv("SCANRUN_RUN_GRACE_PERIOD", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestRunOptions(t *testing.T) {
	cfg := Default()
	cfg.Scanner.WorkDir = "/tmp"
	cfg.Metrics.SampleInterval = time.Second
	o := cfg.RunOptions(nil)
	assert.Equal(t, cfg.Run.GracePeriod, o.GracePeriod)
	assert.Equal(t, cfg.Run.ProgressCeiling, o.ProgressCeiling)
	assert.Equal(t, cfg.Run.DrainTimeout, o.DrainTimeout)
	assert.True(t, o.EchoCommand)
	assert.Equal(t, "/tmp", o.WorkDir)
	assert.Equal(t, time.Second, o.SampleInterval)
}

func TestHistoryPathDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	p, err := Default().HistoryPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scanrun", "history.json"), p)
}

func TestScannerEnv(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.ScannerEnv(), "no overrides inherits the environment")

	t.Setenv("SCANRUN_TEST_HOME", "/home/op")
	cfg.Scanner.Env = []string{"WPSCAN_CACHE=${SCANRUN_TEST_HOME}/.wpscan"}
	got := cfg.ScannerEnv()
	assert.Contains(t, got, "WPSCAN_CACHE=/home/op/.wpscan")
	assert.Contains(t, got, "SCANRUN_TEST_HOME=/home/op")
	assert.Equal(t, got, cfg.RunOptions(nil).Env)
}
