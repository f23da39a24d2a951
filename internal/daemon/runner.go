package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
	"github.com/eliteGoblin/focusd/mon_sup/internal/usecase"
	"github.com/eliteGoblin/focusd/mon_sup/internal/watcher"
)

// Runner is the single control loop. Watcher polls, tray commands and resume
// notifications are all handled on its goroutine, so the suppressor never
// sees concurrent calls from the loop.
type Runner struct {
	watcher    *watcher.ProcessWatcher
	suppressor *usecase.Suppressor
	guard      *Guard
	commands   <-chan domain.Command
	resumed    <-chan struct{}
	logger     *zap.Logger
}

// NewRunner creates a runner. commands and resumed may be nil.
func NewRunner(
	w *watcher.ProcessWatcher,
	suppressor *usecase.Suppressor,
	guard *Guard,
	commands <-chan domain.Command,
	resumed <-chan struct{},
	logger *zap.Logger,
) *Runner {
	return &Runner{
		watcher:    w,
		suppressor: suppressor,
		guard:      guard,
		commands:   commands,
		resumed:    resumed,
		logger:     logger,
	}
}

// Run blocks until ctx is canceled or a quit command arrives, then runs the
// shutdown guard. A panic in the loop also runs the guard before propagating.
func (r *Runner) Run(ctx context.Context) error {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("control loop panic, restoring monitors", zap.Any("panic", p))
			_ = r.guard.Shutdown(ctx)
			panic(p)
		}
	}()

	if err := r.guard.Startup(ctx); err != nil {
		return err
	}

	target := r.watcher.Target()
	r.logger.Info("control loop started",
		zap.String("target", target.Executable),
		zap.Duration("poll_interval", target.PollInterval),
		zap.Int("debounce_window", target.DebounceWindow))

	ticker := time.NewTicker(target.PollInterval)
	defer ticker.Stop()

	r.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("control loop stopping")
			return r.guard.Shutdown(ctx)

		case <-ticker.C:
			r.poll(ctx)

		case cmd := <-r.commands:
			switch cmd {
			case domain.CmdRestore:
				if err := r.suppressor.ForceRestore(ctx); err != nil {
					r.logger.Warn("force restore failed, will retry", zap.Error(err))
				}
			case domain.CmdQuit:
				r.logger.Info("quit requested")
				return r.guard.Shutdown(ctx)
			}

		case <-r.resumed:
			r.logger.Info("checking topology after resume")
			if err := r.suppressor.CheckConsistency(ctx); err != nil {
				r.logger.Warn("post-resume consistency check failed", zap.Error(err))
			}
		}
	}
}

// poll feeds one watcher observation to the suppressor. A restore that fails
// during an event is retried from the next poll, not this one.
func (r *Runner) poll(ctx context.Context) {
	if ev, ok := r.watcher.Poll(ctx); ok {
		r.logger.Info("target process event",
			zap.String("event", string(ev)),
			zap.String("target", r.watcher.Target().Executable))
		r.suppressor.HandleEvent(ctx, ev)
		return
	}
	r.suppressor.Tick(ctx)
}

// WithPID stamps every published report with the daemon's PID.
func WithPID(publisher domain.StatusPublisher, pid int) domain.StatusPublisher {
	return pidPublisher{next: publisher, pid: pid}
}

type pidPublisher struct {
	next domain.StatusPublisher
	pid  int
}

func (p pidPublisher) Publish(report domain.StatusReport) error {
	report.PID = p.pid
	return p.next.Publish(report)
}
