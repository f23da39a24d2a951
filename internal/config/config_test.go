package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Empty(t, cfg.Target.Executable)
	assert.Equal(t, "2s", cfg.Target.PollInterval)
	assert.Equal(t, 2, cfg.Target.DebounceWindow)
	assert.Equal(t, BackendX11, cfg.Display.Backend)
	assert.Equal(t, "5s", cfg.Display.CallTimeout)
	assert.Equal(t, 3, cfg.Shutdown.RestoreAttempts)
	assert.Equal(t, "500ms", cfg.Shutdown.RetryDelay)
	assert.True(t, cfg.State.CacheBaseline)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_ParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[target]
executable = "game.exe"
poll_interval = "1s"
debounce_window = 3

[display]
backend = "memory"
call_timeout = "2s"

[shutdown]
restore_attempts = 5

[state]
dir = "/tmp/monsup-test"
cache_baseline = false

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "game.exe", cfg.Target.Executable)
	assert.Equal(t, "1s", cfg.Target.PollInterval)
	assert.Equal(t, 3, cfg.Target.DebounceWindow)
	assert.Equal(t, BackendMemory, cfg.Display.Backend)
	assert.Equal(t, 5, cfg.Shutdown.RestoreAttempts)
	assert.Equal(t, DefaultRetryDelay, cfg.Shutdown.RetryDelay, "unset keys keep defaults")
	assert.False(t, cfg.State.CacheBaseline)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[target\nexecutable ="), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "failed to parse")
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.Target.Executable = "steam"

	require.NoError(t, cfg.Save(path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestResolve_Valid(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")
	cfg := DefaultConfig()
	cfg.Target.Executable = "game.exe"

	s, err := cfg.Resolve()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, s.PollInterval)
	assert.Equal(t, 5*time.Second, s.CallTimeout)
	assert.Equal(t, 500*time.Millisecond, s.RetryDelay)
	assert.Equal(t, time.Duration(0), s.SettleDelay)
	assert.Equal(t, filepath.Join("/state", "monsup"), s.StateDir)
	assert.Equal(t, filepath.Join("/state", "monsup", "monsup.log"), s.LogFile)
}

func TestResolve_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"missing executable", func(c *Config) { c.Target.Executable = "" }, "target.executable is required"},
		{"zero poll interval", func(c *Config) { c.Target.PollInterval = "0s" }, "target.poll_interval must be positive"},
		{"bad poll interval", func(c *Config) { c.Target.PollInterval = "often" }, "target.poll_interval"},
		{"zero debounce", func(c *Config) { c.Target.DebounceWindow = 0 }, "debounce_window must be at least 1"},
		{"zero restore attempts", func(c *Config) { c.Shutdown.RestoreAttempts = 0 }, "restore_attempts must be at least 1"},
		{"unknown backend", func(c *Config) { c.Display.Backend = "wayland" }, `display.backend "wayland"`},
		{"negative retry delay", func(c *Config) { c.Shutdown.RetryDelay = "-1s" }, "retry_delay must not be negative"},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }, `log.level "trace"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Target.Executable = "game.exe"
			tt.modify(cfg)

			_, err := cfg.Resolve()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestResolve_ReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target.DebounceWindow = 0

	_, err := cfg.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target.executable")
	assert.Contains(t, err.Error(), "debounce_window")
}

func TestResolveTool_DoesNotRequireTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.State.Dir = "/tmp/monsup"

	s, err := cfg.ResolveTool()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/monsup", s.StateDir)

	cfg.Display.Backend = "wayland"
	_, err = cfg.ResolveTool()
	assert.Error(t, err, "other fields are still validated")
}
