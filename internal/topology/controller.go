// Package topology captures, computes and converges display topologies.
package topology

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

// DefaultCallTimeout bounds every host display call.
const DefaultCallTimeout = 5 * time.Second

// Report describes what a convergence pass did.
type Report struct {
	Changed []string // Monitors whose change was issued and accepted
	Skipped []string // Target monitors not present in the live topology
}

// Controller converges the live topology toward target snapshots.
// It is not safe for concurrent use; the suppressor is its only caller.
type Controller struct {
	display     domain.DisplayAPI
	timeout     time.Duration
	settle      time.Duration
	now         func() time.Time
	logger      *zap.Logger
	lastChanged []string
}

// NewController creates a controller over the given display backend.
func NewController(display domain.DisplayAPI, timeout time.Duration, logger *zap.Logger) *Controller {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Controller{
		display: display,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// SetSettleDelay makes apply wait before re-reading the topology it changed.
// Some drivers report the old state for a moment after a mode set.
func (c *Controller) SetSettleDelay(d time.Duration) {
	c.settle = d
}

// Capture reads the live topology.
func (c *Controller) Capture(ctx context.Context) (domain.TopologySnapshot, error) {
	monitors, err := withTimeout(ctx, c.timeout, c.display.Enumerate)
	if err != nil {
		return domain.TopologySnapshot{}, fmt.Errorf("%w: %w", domain.ErrDisplayQuery, err)
	}
	return domain.NewSnapshot(monitors, c.now()), nil
}

// ComputeSuppressed derives the suppressed topology: identical to baseline
// except every non-primary monitor is disabled. The primary is always enabled.
// If no monitor is flagged primary, the first enabled one (or the first one)
// stays enabled so the result never has zero enabled monitors.
func ComputeSuppressed(baseline domain.TopologySnapshot) domain.TopologySnapshot {
	keep := -1
	for i, m := range baseline.Monitors {
		if m.Primary {
			keep = i
			break
		}
	}
	if keep < 0 {
		for i, m := range baseline.Monitors {
			if m.Enabled {
				keep = i
				break
			}
		}
	}
	if keep < 0 && len(baseline.Monitors) > 0 {
		keep = 0
	}

	out := make([]domain.MonitorDescriptor, len(baseline.Monitors))
	for i, m := range baseline.Monitors {
		out[i] = m.WithEnabled(i == keep)
	}
	return domain.TopologySnapshot{Monitors: out, CapturedAt: baseline.CapturedAt}
}

// Apply converges the live topology toward target. Only monitors whose
// enabled flag differs are touched. Applying a target equal to the live
// topology succeeds with nothing changed.
//
// On failure the returned error is a *domain.ApplyError listing the monitors
// confirmed changed, or a *domain.ConsistencyError when the host accepted
// every call but the re-captured topology still disagrees.
func (c *Controller) Apply(ctx context.Context, target domain.TopologySnapshot) (Report, error) {
	live, err := c.Capture(ctx)
	if err != nil {
		return Report{}, err
	}
	return c.converge(ctx, live, target)
}

// Restore is Apply with the baseline as target, so restoration can undo
// anything suppression did.
func (c *Controller) Restore(ctx context.Context, baseline domain.TopologySnapshot) (Report, error) {
	return c.Apply(ctx, baseline)
}

// Compensate reverts only the given monitors to their baseline flags,
// leaving every other monitor as it is live.
func (c *Controller) Compensate(ctx context.Context, baseline domain.TopologySnapshot, changed []string) (Report, error) {
	live, err := c.Capture(ctx)
	if err != nil {
		return Report{}, err
	}
	revert := make(map[string]bool, len(changed))
	for _, id := range changed {
		revert[id] = true
	}
	target := make([]domain.MonitorDescriptor, 0, len(live.Monitors))
	for _, m := range live.Monitors {
		if b, ok := baseline.Lookup(m.ID); ok && revert[m.ID] {
			target = append(target, b)
			continue
		}
		target = append(target, m)
	}
	return c.converge(ctx, live, domain.NewSnapshot(target, c.now()))
}

// Verify re-captures and checks that every monitor of expected that is
// present live has the expected enabled flag.
func (c *Controller) Verify(ctx context.Context, expected domain.TopologySnapshot) error {
	live, err := c.Capture(ctx)
	if err != nil {
		return err
	}
	return mismatches(live, expected, nil)
}

// LastChanged returns the monitors confirmed changed by the most recent pass.
func (c *Controller) LastChanged() []string {
	out := make([]string, len(c.lastChanged))
	copy(out, c.lastChanged)
	return out
}

func (c *Controller) converge(ctx context.Context, live, target domain.TopologySnapshot) (Report, error) {
	var report Report
	var enables, disables []domain.MonitorDescriptor
	planned := make(map[string]bool)

	for _, want := range target.Monitors {
		have, ok := live.Lookup(want.ID)
		if !ok {
			report.Skipped = append(report.Skipped, want.ID)
			continue
		}
		if have.Enabled == want.Enabled {
			continue
		}
		planned[want.ID] = true
		if want.Enabled {
			enables = append(enables, want)
		} else {
			disables = append(disables, want)
		}
	}

	if len(report.Skipped) > 0 {
		c.logger.Warn("target monitors not present, skipping",
			zap.Strings("monitors", report.Skipped))
	}

	if len(planned) == 0 {
		c.lastChanged = nil
		return report, nil
	}

	if wouldBlank(live, planned) {
		c.lastChanged = nil
		return report, fmt.Errorf("%w: refusing topology with zero enabled monitors", domain.ErrDisplayApply)
	}

	failed := make(map[string]error)
	// Enable first so no intermediate state has zero enabled monitors.
	for _, want := range append(enables, disables...) {
		desired := want
		err := withTimeoutErr(ctx, c.timeout, func(ctx context.Context) error {
			return c.display.Configure(ctx, desired)
		})
		if err != nil {
			c.logger.Warn("monitor configure failed",
				zap.String("monitor", desired.ID),
				zap.Bool("enabled", desired.Enabled),
				zap.Error(err))
			failed[desired.ID] = err
			continue
		}
		c.logger.Debug("monitor configured",
			zap.String("monitor", desired.ID),
			zap.Bool("enabled", desired.Enabled))
		report.Changed = append(report.Changed, desired.ID)
	}
	c.lastChanged = append([]string(nil), report.Changed...)

	if len(failed) > 0 {
		return report, &domain.ApplyError{Changed: report.Changed, Failed: failed}
	}

	if c.settle > 0 {
		select {
		case <-time.After(c.settle):
		case <-ctx.Done():
			return report, ctx.Err()
		}
	}
	after, err := c.Capture(ctx)
	if err != nil {
		return report, err
	}
	return report, mismatches(after, target, planned)
}

// wouldBlank reports whether flipping the planned monitors leaves none enabled.
func wouldBlank(live domain.TopologySnapshot, planned map[string]bool) bool {
	if len(live.Monitors) == 0 {
		return false
	}
	for _, m := range live.Monitors {
		enabled := m.Enabled
		if planned[m.ID] {
			enabled = !enabled
		}
		if enabled {
			return false
		}
	}
	return true
}

// mismatches compares enabled flags; only IDs in scope are checked when scope is non-nil.
func mismatches(live, expected domain.TopologySnapshot, scope map[string]bool) error {
	var bad []string
	for _, want := range expected.Monitors {
		if scope != nil && !scope[want.ID] {
			continue
		}
		have, ok := live.Lookup(want.ID)
		if !ok {
			continue
		}
		if have.Enabled != want.Enabled {
			bad = append(bad, want.ID)
		}
	}
	if len(bad) > 0 {
		return &domain.ConsistencyError{Mismatched: bad}
	}
	return nil
}

// withTimeout runs fn with a bounded deadline. A backend that ignores its
// context is abandoned when the deadline passes or ctx is canceled, and the
// call counts as failed.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", domain.ErrTimeout, d)
		}
		return zero, fmt.Errorf("host call abandoned: %w", ctx.Err())
	}
}

func withTimeoutErr(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	_, err := withTimeout(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
