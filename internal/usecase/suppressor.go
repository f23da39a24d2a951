// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
	"github.com/eliteGoblin/focusd/mon_sup/internal/topology"
)

// Suppressor is the suppression state machine. It is the only component that
// calls the controller's mutating operations; every transition runs under mu.
type Suppressor struct {
	controller *topology.Controller
	store      domain.BaselineStore   // Optional advisory cache
	publisher  domain.StatusPublisher // Optional tray surface
	target     string
	logger     *zap.Logger
	now        func() time.Time

	mu             sync.Mutex
	state          domain.SuppressionState
	baseline       *domain.TopologySnapshot
	restorePending bool
	targetRunning  bool
	lastErr        error
	changedAt      time.Time
}

// NewSuppressor creates a suppressor in the Idle state.
// store and publisher may be nil.
func NewSuppressor(
	controller *topology.Controller,
	store domain.BaselineStore,
	publisher domain.StatusPublisher,
	target string,
	logger *zap.Logger,
) *Suppressor {
	return &Suppressor{
		controller: controller,
		store:      store,
		publisher:  publisher,
		target:     target,
		logger:     logger,
		now:        time.Now,
		state:      domain.StateIdle,
		changedAt:  time.Now(),
	}
}

// HandleEvent runs the transition for a confirmed watcher event.
func (s *Suppressor) HandleEvent(ctx context.Context, ev domain.ProcessEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev {
	case domain.EventStarted:
		s.targetRunning = true
		switch s.state {
		case domain.StateIdle:
			s.suppress(ctx)
		case domain.StateSuppressed:
			if s.restorePending {
				// Relaunched before a failed restore went through; keep suppression.
				s.logger.Info("target relaunched while restore pending, keeping suppression")
				s.restorePending = false
				s.publish()
			}
		}

	case domain.EventStopped:
		s.targetRunning = false
		if s.state == domain.StateSuppressed {
			_ = s.restore(ctx, "target stopped")
		}
	}
}

// ForceRestore handles the tray's manual restore request. It is accepted in
// any state; from Suppressed it behaves exactly like a Stopped event.
func (s *Suppressor) ForceRestore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateSuppressed {
		s.logger.Info("force restore requested with nothing suppressed",
			zap.String("state", string(s.state)))
		return nil
	}
	return s.restore(ctx, "force restore")
}

// Tick is called on every poll. It retries a pending restore and re-derives
// a baseline if one was somehow lost while Suppressed.
func (s *Suppressor) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateSuppressed {
		return
	}
	if s.baseline == nil || s.restorePending {
		_ = s.restore(ctx, "retry")
	}
}

// CheckConsistency re-verifies a held suppression, e.g. after host resume.
// If secondaries came back on, the suppressed target is re-derived from the
// held baseline and re-applied against a fresh capture.
func (s *Suppressor) CheckConsistency(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateSuppressed || s.restorePending || s.baseline == nil {
		return nil
	}

	expected := topology.ComputeSuppressed(*s.baseline)
	err := s.controller.Verify(ctx, expected)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrConsistency) {
		s.logger.Warn("consistency check could not read topology", zap.Error(err))
		return err
	}

	s.logger.Warn("suppressed topology drifted, re-applying", zap.Error(err))
	if _, err := s.controller.Apply(context.WithoutCancel(ctx), expected); err != nil {
		s.lastErr = err
		s.logger.Error("failed to re-apply suppression", zap.Error(err))
		s.publish()
		return err
	}
	s.lastErr = nil
	s.publish()
	return nil
}

// Release makes one restore attempt if monitors may be held. Used by the
// shutdown guard; returns nil when nothing needs restoring.
func (s *Suppressor) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.HoldsDisplays() {
		return nil
	}
	return s.restore(ctx, "shutdown")
}

// State returns the current suppression state.
func (s *Suppressor) State() domain.SuppressionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Baseline returns a copy of the held baseline, if any.
func (s *Suppressor) Baseline() (domain.TopologySnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseline == nil {
		return domain.TopologySnapshot{}, false
	}
	return domain.NewSnapshot(s.baseline.Monitors, s.baseline.CapturedAt), true
}

// Status returns the report published to the tray surface.
func (s *Suppressor) Status() domain.StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report()
}

func (s *Suppressor) suppress(ctx context.Context) {
	ctx = context.WithoutCancel(ctx) // Shutdown waits on mu rather than abandoning host calls
	baseline, err := s.controller.Capture(ctx)
	if err != nil {
		s.lastErr = err
		s.logger.Warn("cannot capture baseline, staying idle", zap.Error(err))
		s.publish()
		return
	}

	s.baseline = &baseline
	s.transition(domain.StateSuppressing)
	s.cache(baseline)

	target := topology.ComputeSuppressed(baseline)
	var changed []string
	report, err := s.controller.Apply(ctx, target)
	changed = append(changed, report.Changed...)
	if errors.Is(err, domain.ErrConsistency) {
		s.logger.Warn("suppression did not converge, re-capturing", zap.Error(err))
		report, err = s.controller.Apply(ctx, target)
		changed = append(changed, report.Changed...)
	}

	if err == nil {
		s.lastErr = nil
		s.transition(domain.StateSuppressed)
		s.logger.Info("secondary monitors suppressed",
			zap.Strings("disabled", changed),
			zap.Int("baseline_monitors", len(baseline.Monitors)))
		return
	}

	s.lastErr = err
	s.logger.Error("suppression failed", zap.Error(err), zap.Strings("partially_changed", changed))

	if len(changed) > 0 {
		if _, cerr := s.controller.Compensate(ctx, baseline, changed); cerr != nil {
			// Monitors may still be off; keep the baseline and let the restore retry own them.
			s.logger.Error("compensating restore failed, holding baseline for retry",
				zap.Strings("monitors", changed),
				zap.Error(cerr))
			s.restorePending = true
			s.transition(domain.StateSuppressed)
			return
		}
		s.logger.Info("compensating restore succeeded", zap.Strings("monitors", changed))
	}

	s.baseline = nil
	s.uncache()
	s.transition(domain.StateIdle)
}

func (s *Suppressor) restore(ctx context.Context, reason string) error {
	if s.baseline == nil {
		// No baseline held: the live topology is the only ground truth.
		s.logger.Warn("no baseline held while suppressed, adopting live topology",
			zap.String("reason", reason))
		s.restorePending = false
		s.transition(domain.StateIdle)
		return nil
	}

	s.transition(domain.StateRestoring)
	// An in-flight restore is never cut short; the controller timeout bounds it.
	report, err := s.controller.Restore(context.WithoutCancel(ctx), *s.baseline)
	if err != nil {
		s.lastErr = err
		s.restorePending = true
		s.logger.Error("restore failed, staying suppressed",
			zap.String("reason", reason),
			zap.Strings("restored", report.Changed),
			zap.Error(err))
		s.transition(domain.StateSuppressed)
		return fmt.Errorf("restore (%s): %w", reason, err)
	}

	s.logger.Info("monitors restored",
		zap.String("reason", reason),
		zap.Strings("enabled", report.Changed),
		zap.Strings("skipped", report.Skipped))
	s.lastErr = nil
	s.restorePending = false
	s.baseline = nil
	s.uncache()
	s.transition(domain.StateIdle)
	return nil
}

func (s *Suppressor) transition(to domain.SuppressionState) {
	from := s.state
	s.state = to
	s.changedAt = s.now()
	s.logger.Info("suppression state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Bool("restore_pending", s.restorePending))
	s.publish()
}

func (s *Suppressor) publish() {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(s.report()); err != nil {
		s.logger.Warn("failed to publish status", zap.Error(err))
	}
}

func (s *Suppressor) report() domain.StatusReport {
	r := domain.StatusReport{
		State:          s.state,
		Icon:           domain.IconFor(s.state, s.restorePending),
		Target:         s.target,
		TargetRunning:  s.targetRunning,
		RestorePending: s.restorePending,
		ChangedAt:      s.changedAt,
	}
	if s.baseline != nil {
		r.BaselineSize = len(s.baseline.Monitors)
		r.Disabled = suppressedBy(*s.baseline)
	}
	if s.lastErr != nil {
		r.LastError = s.lastErr.Error()
	}
	return r
}

func (s *Suppressor) cache(baseline domain.TopologySnapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(domain.SlotActive, baseline); err != nil {
		s.logger.Warn("failed to cache baseline", zap.Error(err))
	}
}

func (s *Suppressor) uncache() {
	if s.store == nil {
		return
	}
	if err := s.store.Clear(domain.SlotActive); err != nil {
		s.logger.Warn("failed to clear cached baseline", zap.Error(err))
	}
}

// suppressedBy lists monitors enabled in baseline that suppression turns off.
func suppressedBy(baseline domain.TopologySnapshot) []string {
	target := topology.ComputeSuppressed(baseline)
	var ids []string
	for _, m := range baseline.Monitors {
		if t, ok := target.Lookup(m.ID); ok && m.Enabled && !t.Enabled {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
