// Package main is the CLI entry point for monsup.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/mon_sup/internal/config"
	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
	"github.com/eliteGoblin/focusd/mon_sup/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "monsup",
	Short: "Monitor suppressor - turns off secondary monitors while a program runs",
	Long: `monsup watches for a target program (usually a game) and disables every
non-primary monitor while it runs. When the program exits, or monsup itself
is stopped, the previous monitor layout is restored.`,
	Version:       Version,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath   string
	targetFlag   string
	pollFlag     string
	debounceFlag int
	backendFlag  string
	verbose      bool
	jsonOutput   bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/monsup/config.toml)")
	pf.StringVar(&targetFlag, "target", "", "Target executable name or path")
	pf.StringVar(&pollFlag, "poll-interval", "", "Process poll interval, e.g. 2s")
	pf.IntVar(&debounceFlag, "debounce", 0, "Consecutive polls before a start/stop is confirmed")
	pf.StringVar(&backendFlag, "backend", "", "Display backend (x11, memory)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw status JSON")
	restoreCmd.Flags().BoolVar(&fromCache, "from-cache", false, "Apply the baseline cached by a previous session")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadSettings reads the config file and applies flag overrides.
func loadSettings(cmd *cobra.Command, requireTarget bool) (*config.Settings, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Target.Executable = targetFlag
	}
	if flags.Changed("poll-interval") {
		cfg.Target.PollInterval = pollFlag
	}
	if flags.Changed("debounce") {
		cfg.Target.DebounceWindow = debounceFlag
	}
	if flags.Changed("backend") {
		cfg.Display.Backend = backendFlag
	}
	if requireTarget {
		return cfg.Resolve()
	}
	return cfg.ResolveTool()
}

// forwardedFlags rebuilds the persistent flags the user set, for self-exec.
func forwardedFlags(cmd *cobra.Command) []string {
	var args []string
	flags := cmd.Flags()
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			args = append(args, "--config", abs)
		}
	}
	if flags.Changed("target") {
		args = append(args, "--target", targetFlag)
	}
	if flags.Changed("poll-interval") {
		args = append(args, "--poll-interval", pollFlag)
	}
	if flags.Changed("debounce") {
		args = append(args, "--debounce", fmt.Sprint(debounceFlag))
	}
	if flags.Changed("backend") {
		args = append(args, "--backend", backendFlag)
	}
	if verbose {
		args = append(args, "--verbose")
	}
	return args
}

func createLogger(settings *config.Settings) *zap.Logger {
	level, err := zapcore.ParseLevel(settings.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{settings.LogFile}
	cfg.ErrorOutputPaths = []string{settings.LogFile}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	_ = os.MkdirAll(filepath.Dir(settings.LogFile), 0700)
	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// openDisplay builds the configured display backend.
func openDisplay(settings *config.Settings) (domain.DisplayAPI, func(), error) {
	switch settings.Backend {
	case config.BackendMemory:
		return infra.NewDefaultMemoryDisplay(), func() {}, nil
	default:
		d, err := infra.NewRandRDisplay()
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("monsup %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// waitFor polls cond until it holds or timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return cond()
}
