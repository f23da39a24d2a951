// Package daemon runs the control loop and guards display restoration on exit.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
	"github.com/eliteGoblin/focusd/mon_sup/internal/topology"
	"github.com/eliteGoblin/focusd/mon_sup/internal/usecase"
)

// GuardConfig bounds restoration on exit.
type GuardConfig struct {
	RestoreAttempts int
	RetryDelay      time.Duration
}

// DefaultGuardConfig returns default guard configuration.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RestoreAttempts: 3,
		RetryDelay:      500 * time.Millisecond,
	}
}

// Guard checks the topology on start and restores held monitors on exit.
type Guard struct {
	config     GuardConfig
	suppressor *usecase.Suppressor
	controller *topology.Controller
	store      domain.BaselineStore // Optional
	logger     *zap.Logger
}

// NewGuard creates a guard. store may be nil.
func NewGuard(
	config GuardConfig,
	suppressor *usecase.Suppressor,
	controller *topology.Controller,
	store domain.BaselineStore,
	logger *zap.Logger,
) *Guard {
	if config.RestoreAttempts < 1 {
		config.RestoreAttempts = 1
	}
	return &Guard{
		config:     config,
		suppressor: suppressor,
		controller: controller,
		store:      store,
		logger:     logger,
	}
}

// Startup inspects the live topology before the first poll. It never changes
// the topology: monitors found disabled are treated as the user's layout.
// A baseline cached by a previous session is moved aside for manual recovery.
func (g *Guard) Startup(ctx context.Context) error {
	live, err := g.controller.Capture(ctx)
	if err != nil {
		return fmt.Errorf("display backend unusable: %w", err)
	}
	g.logger.Info("startup topology", zap.Stringer("topology", live))

	if off := live.DisabledSecondaries(); len(off) > 0 {
		g.logger.Warn("non-primary monitors already disabled, leaving them as found",
			zap.Strings("monitors", off))
	}

	if g.store == nil {
		return nil
	}
	stale, err := g.store.Load(domain.SlotActive)
	if err != nil {
		g.logger.Warn("failed to read cached baseline", zap.Error(err))
		return nil
	}
	if stale == nil {
		return nil
	}
	if err := g.store.Save(domain.SlotRecovered, *stale); err != nil {
		g.logger.Warn("failed to keep cached baseline for recovery", zap.Error(err))
		return nil
	}
	if err := g.store.Clear(domain.SlotActive); err != nil {
		g.logger.Warn("failed to clear cached baseline", zap.Error(err))
	}
	g.logger.Warn("previous session exited while suppressed; run 'monsup restore --from-cache' to re-enable its monitors",
		zap.Stringer("cached", stale),
		zap.Time("captured_at", stale.CapturedAt))
	return nil
}

// Shutdown restores held monitors with a bounded number of attempts. It
// ignores cancellation of the caller's context so an in-flight restore is
// never cut short; each host call is still bounded by the controller timeout.
func (g *Guard) Shutdown(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	state := g.suppressor.State()
	if !state.HoldsDisplays() {
		g.logger.Info("shutdown with nothing to restore")
		return nil
	}
	g.logger.Info("restoring monitors before exit", zap.String("state", string(state)))

	var err error
	for attempt := 1; attempt <= g.config.RestoreAttempts; attempt++ {
		if err = g.suppressor.Release(ctx); err == nil {
			g.logger.Info("monitors restored before exit", zap.Int("attempt", attempt))
			return nil
		}
		g.logger.Warn("restore attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.config.RestoreAttempts),
			zap.Error(err))
		if attempt < g.config.RestoreAttempts && g.config.RetryDelay > 0 {
			time.Sleep(g.config.RetryDelay)
		}
	}

	g.logger.Error("exiting with monitors still disabled",
		zap.Strings("monitors", g.suppressor.Status().Disabled),
		zap.Error(err))
	return fmt.Errorf("restore failed after %d attempts: %w", g.config.RestoreAttempts, err)
}

// WatchSignals cancels the returned context on SIGINT, SIGTERM or SIGHUP.
func WatchSignals(ctx context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
