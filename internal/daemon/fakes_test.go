package daemon

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

// fakeDisplay is a concurrency-safe domain.DisplayAPI
type fakeDisplay struct {
	mu         sync.Mutex
	monitors   []domain.MonitorDescriptor
	queryErr   error
	failEnable bool
	enables    int // Enable attempts, successful or not
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{monitors: []domain.MonitorDescriptor{
		{ID: "A", Enabled: true, Primary: true, Width: 2560, Height: 1440},
		{ID: "B", Enabled: true, X: 2560, Width: 1920, Height: 1080},
	}}
}

func (d *fakeDisplay) Enumerate(ctx context.Context) ([]domain.MonitorDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	out := make([]domain.MonitorDescriptor, len(d.monitors))
	copy(out, d.monitors)
	return out, nil
}

func (d *fakeDisplay) Configure(ctx context.Context, desired domain.MonitorDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desired.Enabled {
		d.enables++
	}
	if d.failEnable && desired.Enabled {
		return errors.New("enable rejected")
	}
	for i := range d.monitors {
		if d.monitors[i].ID == desired.ID {
			d.monitors[i] = d.monitors[i].WithEnabled(desired.Enabled)
		}
	}
	return nil
}

func (d *fakeDisplay) setEnabled(id string, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.monitors {
		if d.monitors[i].ID == id {
			d.monitors[i] = d.monitors[i].WithEnabled(enabled)
		}
	}
}

func (d *fakeDisplay) setFailEnable(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failEnable = fail
}

func (d *fakeDisplay) enableAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enables
}

func (d *fakeDisplay) enabled(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.monitors {
		if m.ID == id {
			return m.Enabled
		}
	}
	return false
}

// fakeProcesses reports the target as running while running is set
type fakeProcesses struct {
	mu      sync.Mutex
	running bool
}

func (p *fakeProcesses) set(running bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = running
}

func (p *fakeProcesses) List(ctx context.Context) ([]domain.ProcessInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	procs := []domain.ProcessInfo{{PID: 1, Name: "init"}}
	if p.running {
		procs = append(procs, domain.ProcessInfo{PID: 777, Name: "game.exe"})
	}
	return procs, nil
}

func (p *fakeProcesses) IsRunning(pid int) bool { return false }

func (p *fakeProcesses) GetCurrentPID() int { return os.Getpid() }

// fakeStore is an in-memory domain.BaselineStore
type fakeStore struct {
	mu    sync.Mutex
	slots map[string]domain.TopologySnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{slots: make(map[string]domain.TopologySnapshot)}
}

func (s *fakeStore) Save(slot string, snap domain.TopologySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = snap
	return nil
}

func (s *fakeStore) Load(slot string) (*domain.TopologySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.slots[slot]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *fakeStore) Clear(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, slot)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) has(slot string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[slot]
	return ok
}
