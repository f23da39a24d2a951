// Package watcher detects the target process starting and stopping.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

const (
	// DefaultPollInterval is the process list cadence.
	DefaultPollInterval = 2 * time.Second

	// DefaultDebounceWindow is the number of consecutive confirming polls.
	DefaultDebounceWindow = 2
)

// ProcessWatcher polls the process list and emits confirmed transitions.
// Poll is not safe for concurrent use; the control loop is its only caller.
type ProcessWatcher struct {
	target  domain.ProcessTarget
	pm      domain.ProcessManager
	logger  *zap.Logger
	state   domain.WatcherState
	pending int // Consecutive observations disagreeing with state
}

// New creates a watcher in the NotRunning state.
func New(target domain.ProcessTarget, pm domain.ProcessManager, logger *zap.Logger) *ProcessWatcher {
	if target.DebounceWindow < 1 {
		target.DebounceWindow = DefaultDebounceWindow
	}
	if target.PollInterval <= 0 {
		target.PollInterval = DefaultPollInterval
	}
	return &ProcessWatcher{
		target: target,
		pm:     pm,
		logger: logger,
		state:  domain.NotRunning,
	}
}

// Target returns the watched process target.
func (w *ProcessWatcher) Target() domain.ProcessTarget {
	return w.target
}

// State returns the confirmed watcher state.
func (w *ProcessWatcher) State() domain.WatcherState {
	return w.state
}

// Poll takes one observation. It returns an event only when a flip has been
// observed for DebounceWindow consecutive polls. An enumeration failure is
// no observation: it neither confirms nor resets a pending flip, and never
// counts as the target stopping.
func (w *ProcessWatcher) Poll(ctx context.Context) (domain.ProcessEvent, bool) {
	procs, err := w.pm.List(ctx)
	if err != nil {
		w.logger.Warn("process enumeration failed, skipping observation",
			zap.String("target", w.target.Executable),
			zap.Error(err))
		return "", false
	}

	observed := domain.NotRunning
	for _, p := range procs {
		if Matches(w.target.Executable, p) {
			observed = domain.Running
			break
		}
	}
	return w.observe(observed)
}

func (w *ProcessWatcher) observe(observed domain.WatcherState) (domain.ProcessEvent, bool) {
	if observed == w.state {
		if w.pending > 0 {
			w.logger.Debug("transient presence change discarded",
				zap.String("target", w.target.Executable),
				zap.Int("pending", w.pending))
		}
		w.pending = 0
		return "", false
	}

	w.pending++
	if w.pending < w.target.DebounceWindow {
		return "", false
	}

	w.state = observed
	w.pending = 0
	ev := domain.EventStopped
	if observed == domain.Running {
		ev = domain.EventStarted
	}
	w.logger.Info("target process transition confirmed",
		zap.String("target", w.target.Executable),
		zap.String("event", string(ev)))
	return ev, true
}

// Matches reports whether a process is the target. A target containing a
// path separator is compared with the full executable path, otherwise with
// the process name and the executable's base name. Case-insensitive.
func Matches(target string, p domain.ProcessInfo) bool {
	if target == "" {
		return false
	}
	if strings.ContainsAny(target, `/\`) {
		return p.Exe != "" && strings.EqualFold(normalizePath(p.Exe), normalizePath(target))
	}
	if strings.EqualFold(p.Name, target) {
		return true
	}
	if p.Exe != "" && strings.EqualFold(baseName(p.Exe), target) {
		return true
	}
	// Linux truncates comm to 15 bytes.
	return len(p.Name) == 15 && len(target) > 15 && strings.EqualFold(p.Name, target[:15])
}

func normalizePath(p string) string {
	return filepath.Clean(strings.ReplaceAll(p, `\`, "/"))
}

func baseName(p string) string {
	return filepath.Base(strings.ReplaceAll(p, `\`, "/"))
}
