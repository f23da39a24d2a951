package infra

import (
	"context"
	"fmt"
	"sync"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

// MemoryDisplay implements domain.DisplayAPI over an in-memory topology.
// Used by the "memory" backend for dry runs and by integration tests.
type MemoryDisplay struct {
	mu          sync.Mutex
	monitors    []domain.MonitorDescriptor
	failOn      map[string]error
	queryErr    error
	configCalls int
}

// NewMemoryDisplay creates a display with the given outputs.
func NewMemoryDisplay(monitors ...domain.MonitorDescriptor) *MemoryDisplay {
	cp := make([]domain.MonitorDescriptor, len(monitors))
	copy(cp, monitors)
	return &MemoryDisplay{monitors: cp, failOn: make(map[string]error)}
}

// NewDefaultMemoryDisplay creates a primary plus one secondary output.
func NewDefaultMemoryDisplay() *MemoryDisplay {
	return NewMemoryDisplay(
		domain.MonitorDescriptor{ID: "MEM-1", Name: "Memory primary", Enabled: true, Primary: true, Width: 2560, Height: 1440, RefreshHz: 144},
		domain.MonitorDescriptor{ID: "MEM-2", Name: "Memory secondary", Enabled: true, X: 2560, Width: 1920, Height: 1080, RefreshHz: 60},
	)
}

// Enumerate returns a copy of the current outputs.
func (d *MemoryDisplay) Enumerate(ctx context.Context) ([]domain.MonitorDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	out := make([]domain.MonitorDescriptor, len(d.monitors))
	copy(out, d.monitors)
	return out, nil
}

// Configure sets the enabled flag (and geometry when enabling) of one output.
func (d *MemoryDisplay) Configure(ctx context.Context, desired domain.MonitorDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configCalls++
	if err := d.failOn[desired.ID]; err != nil {
		return err
	}
	for i, m := range d.monitors {
		if m.ID != desired.ID {
			continue
		}
		next := m.WithEnabled(desired.Enabled)
		if desired.Enabled && desired.Width > 0 {
			next.X, next.Y = desired.X, desired.Y
			next.Width, next.Height = desired.Width, desired.Height
			next.RefreshHz = desired.RefreshHz
		}
		d.monitors[i] = next
		return nil
	}
	return fmt.Errorf("unknown output %q", desired.ID)
}

// FailConfigure makes Configure fail for an output; nil clears it.
func (d *MemoryDisplay) FailConfigure(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failOn, id)
		return
	}
	d.failOn[id] = err
}

// FailQuery makes Enumerate fail; nil clears it.
func (d *MemoryDisplay) FailQuery(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryErr = err
}

// SetEnabled flips an output out-of-band, simulating user or host changes.
func (d *MemoryDisplay) SetEnabled(id string, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, m := range d.monitors {
		if m.ID == id {
			d.monitors[i] = m.WithEnabled(enabled)
		}
	}
}

// Enabled reports each output's enabled flag.
func (d *MemoryDisplay) Enabled() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool, len(d.monitors))
	for _, m := range d.monitors {
		out[m.ID] = m.Enabled
	}
	return out
}

// ConfigureCalls returns the number of Configure calls so far.
func (d *MemoryDisplay) ConfigureCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configCalls
}

var _ domain.DisplayAPI = (*MemoryDisplay)(nil)
