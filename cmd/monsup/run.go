package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/mon_sup/internal/daemon"
	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
	"github.com/eliteGoblin/focusd/mon_sup/internal/infra"
	"github.com/eliteGoblin/focusd/mon_sup/internal/ipc"
	"github.com/eliteGoblin/focusd/mon_sup/internal/topology"
	"github.com/eliteGoblin/focusd/mon_sup/internal/usecase"
	"github.com/eliteGoblin/focusd/mon_sup/internal/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run in the foreground",
	Long: `Runs the watcher in the foreground until interrupted.
Monitors held disabled are restored before exit.`,
	RunE: runForeground,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start in the background",
	Long:  `Starts "monsup run" detached from the terminal.`,
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background instance",
	Long:  `Asks the running instance to restore monitors and exit.`,
	RunE:  runStop,
}

func runForeground(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd, true)
	if err != nil {
		return err
	}
	logger := createLogger(settings)
	defer func() { _ = logger.Sync() }()

	lock, err := infra.AcquireInstanceLock(settings.StateDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()
	if err := ipc.ClearCommand(settings.StateDir); err != nil {
		logger.Warn("stale command left in place", zap.Error(err))
	}
	processes := infra.NewProcessManager()

	display, closeDisplay, err := openDisplay(settings)
	if err != nil {
		logger.Error("display backend unavailable", zap.String("backend", settings.Backend), zap.Error(err))
		return fmt.Errorf("display backend %s: %w", settings.Backend, err)
	}
	defer closeDisplay()

	controller := topology.NewController(display, settings.CallTimeout, logger)
	controller.SetSettleDelay(settings.SettleDelay)

	var store domain.BaselineStore
	if settings.CacheBaseline {
		s, err := infra.OpenBaselineStore(settings.StateDir)
		if err != nil {
			logger.Warn("baseline cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer s.Close()
			store = s
		}
	}

	statusFile := ipc.NewStatusFile(settings.StateDir)
	defer func() { _ = statusFile.Remove() }()
	publisher := daemon.WithPID(statusFile, processes.GetCurrentPID())

	suppressor := usecase.NewSuppressor(controller, store, publisher, settings.Executable, logger)
	if err := publisher.Publish(suppressor.Status()); err != nil {
		logger.Warn("failed to publish status", zap.Error(err))
	}

	w := watcher.New(domain.ProcessTarget{
		Executable:     settings.Executable,
		PollInterval:   settings.PollInterval,
		DebounceWindow: settings.DebounceWindow,
	}, processes, logger)

	ctx, cancel := daemon.WatchSignals(context.Background(), logger)
	defer cancel()

	commands := ipc.NewCommandWatcher(settings.StateDir, logger)
	go commands.Run(ctx)

	var resumed <-chan struct{}
	if sleep, err := infra.NewSleepMonitor(logger); err != nil {
		logger.Warn("resume notifications unavailable", zap.Error(err))
	} else {
		defer sleep.Close()
		go sleep.Run(ctx)
		resumed = sleep.Resumed()
	}

	guard := daemon.NewGuard(daemon.GuardConfig{
		RestoreAttempts: settings.RestoreAttempts,
		RetryDelay:      settings.RetryDelay,
	}, suppressor, controller, store, logger)

	logger.Info("monsup started",
		zap.String("version", Version),
		zap.Int("pid", processes.GetCurrentPID()),
		zap.String("backend", settings.Backend),
		zap.String("state_dir", settings.StateDir))

	return daemon.NewRunner(w, suppressor, guard, commands.Commands(), resumed, logger).Run(ctx)
}

func runStart(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd, true)
	if err != nil {
		return err
	}
	if pid, running := infra.InstanceRunning(settings.StateDir); running {
		fmt.Printf("monsup is already running (pid %d)\n", pid)
		return nil
	}

	pid, err := daemon.StartDetached(forwardedFlags(cmd)...)
	if err != nil {
		return err
	}

	if !waitFor(3*time.Second, func() bool {
		_, running := infra.InstanceRunning(settings.StateDir)
		return running
	}) {
		return fmt.Errorf("monsup (pid %d) exited during startup, see %s", pid, settings.LogFile)
	}
	fmt.Printf("monsup started (pid %d), watching %s\n", pid, settings.Executable)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd, false)
	if err != nil {
		return err
	}
	pid, running := infra.InstanceRunning(settings.StateDir)
	if !running {
		fmt.Println("monsup is not running")
		return nil
	}

	if err := ipc.WriteCommand(settings.StateDir, domain.CmdQuit); err != nil {
		return fmt.Errorf("failed to send quit: %w", err)
	}

	if !waitFor(15*time.Second, func() bool {
		_, running := infra.InstanceRunning(settings.StateDir)
		return !running
	}) {
		return errors.New("monsup did not exit in time; monitors may still be disabled")
	}
	fmt.Printf("monsup stopped (pid %d)\n", pid)
	return nil
}
