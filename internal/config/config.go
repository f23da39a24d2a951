// Package config handles configuration file loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default configuration values.
const (
	DefaultPollInterval    = "2s"
	DefaultDebounceWindow  = 2
	DefaultBackend         = BackendX11
	DefaultCallTimeout     = "5s"
	DefaultSettleDelay     = "0s"
	DefaultRestoreAttempts = 3
	DefaultRetryDelay      = "500ms"
	DefaultLogLevel        = "info"
)

// Display backends.
const (
	BackendX11    = "x11"
	BackendMemory = "memory"
)

// Config is the on-disk configuration.
type Config struct {
	Target   TargetConfig   `toml:"target"`
	Display  DisplayConfig  `toml:"display"`
	Shutdown ShutdownConfig `toml:"shutdown"`
	State    StateConfig    `toml:"state"`
	Log      LogConfig      `toml:"log"`
}

// TargetConfig selects the watched process.
type TargetConfig struct {
	Executable     string `toml:"executable"`      // Name or absolute path, case-insensitive
	PollInterval   string `toml:"poll_interval"`   // Go duration
	DebounceWindow int    `toml:"debounce_window"` // Consecutive polls before a flip
}

// DisplayConfig selects the display backend.
type DisplayConfig struct {
	Backend     string `toml:"backend"`      // x11, memory
	CallTimeout string `toml:"call_timeout"` // Bound on each host call
	SettleDelay string `toml:"settle_delay"` // Wait after apply before verifying
}

// ShutdownConfig bounds restoration on exit.
type ShutdownConfig struct {
	RestoreAttempts int    `toml:"restore_attempts"`
	RetryDelay      string `toml:"retry_delay"`
}

// StateConfig locates runtime state.
type StateConfig struct {
	Dir           string `toml:"dir"`            // Empty = XDG state dir
	CacheBaseline bool   `toml:"cache_baseline"` // Keep the advisory encrypted cache
}

// LogConfig controls the log file.
type LogConfig struct {
	File  string `toml:"file"`  // Empty = <state dir>/monsup.log
	Level string `toml:"level"` // debug, info, warn, error
}

// Settings is a validated Config with parsed durations and resolved paths.
type Settings struct {
	Executable      string
	PollInterval    time.Duration
	DebounceWindow  int
	Backend         string
	CallTimeout     time.Duration
	SettleDelay     time.Duration
	RestoreAttempts int
	RetryDelay      time.Duration
	StateDir        string
	CacheBaseline   bool
	LogFile         string
	LogLevel        string
}

// DefaultConfig returns a Config with default values. Executable has no default.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			PollInterval:   DefaultPollInterval,
			DebounceWindow: DefaultDebounceWindow,
		},
		Display: DisplayConfig{
			Backend:     DefaultBackend,
			CallTimeout: DefaultCallTimeout,
			SettleDelay: DefaultSettleDelay,
		},
		Shutdown: ShutdownConfig{
			RestoreAttempts: DefaultRestoreAttempts,
			RetryDelay:      DefaultRetryDelay,
		},
		State: StateConfig{
			CacheBaseline: true,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// ConfigPath returns the path to the config file.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func ConfigPath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "monsup", "config.toml")
}

// StatePath returns the default state directory.
// Uses XDG_STATE_HOME if set, otherwise ~/.local/state.
func StatePath() string {
	return filepath.Join(xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state")), "monsup")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}

// LoadConfig loads configuration from path, or the default path if empty.
// Returns defaults if the file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Resolve validates the config and returns runtime settings.
func (c *Config) Resolve() (*Settings, error) {
	return c.resolve(true)
}

// ResolveTool is Resolve without requiring a target, for commands that only
// talk to the display or the state directory.
func (c *Config) ResolveTool() (*Settings, error) {
	return c.resolve(false)
}

func (c *Config) resolve(requireTarget bool) (*Settings, error) {
	var errs []error
	s := &Settings{
		Executable:      c.Target.Executable,
		DebounceWindow:  c.Target.DebounceWindow,
		Backend:         c.Display.Backend,
		RestoreAttempts: c.Shutdown.RestoreAttempts,
		StateDir:        c.State.Dir,
		CacheBaseline:   c.State.CacheBaseline,
		LogFile:         c.Log.File,
		LogLevel:        c.Log.Level,
	}

	if requireTarget && s.Executable == "" {
		errs = append(errs, errors.New("target.executable is required"))
	}
	s.PollInterval = parsePositive("target.poll_interval", c.Target.PollInterval, &errs)
	s.CallTimeout = parsePositive("display.call_timeout", c.Display.CallTimeout, &errs)
	s.RetryDelay = parseNonNegative("shutdown.retry_delay", c.Shutdown.RetryDelay, &errs)
	s.SettleDelay = parseNonNegative("display.settle_delay", c.Display.SettleDelay, &errs)

	if s.DebounceWindow < 1 {
		errs = append(errs, fmt.Errorf("target.debounce_window must be at least 1, got %d", s.DebounceWindow))
	}
	if s.RestoreAttempts < 1 {
		errs = append(errs, fmt.Errorf("shutdown.restore_attempts must be at least 1, got %d", s.RestoreAttempts))
	}
	switch s.Backend {
	case BackendX11, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("display.backend %q is not one of x11, memory", s.Backend))
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s.LogLevel))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if s.StateDir == "" {
		s.StateDir = StatePath()
	}
	if s.LogFile == "" {
		s.LogFile = filepath.Join(s.StateDir, "monsup.log")
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	return s, nil
}

func parsePositive(key, value string, errs *[]error) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return 0
	}
	if d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be positive, got %s", key, value))
	}
	return d
}

func parseNonNegative(key, value string, errs *[]error) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return 0
	}
	if d < 0 {
		*errs = append(*errs, fmt.Errorf("%s must not be negative, got %s", key, value))
	}
	return d
}
