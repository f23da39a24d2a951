// Package fixtures provides fakes shared by integration tests.
package fixtures

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

// FakeProcessTable is a mutable process list implementing domain.ProcessManager.
type FakeProcessTable struct {
	mu      sync.Mutex
	nextPID int32
	procs   map[int32]domain.ProcessInfo
	listErr error
}

// NewFakeProcessTable creates a table holding a single init process.
func NewFakeProcessTable() *FakeProcessTable {
	return &FakeProcessTable{
		nextPID: 1000,
		procs:   map[int32]domain.ProcessInfo{1: {PID: 1, Name: "init", Exe: "/sbin/init"}},
	}
}

// Launch adds a process for exe (a name or path) and returns its PID.
func (t *FakeProcessTable) Launch(exe string) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextPID++
	name := exe
	if strings.ContainsAny(exe, `/\`) {
		name = filepath.Base(strings.ReplaceAll(exe, `\`, "/"))
	}
	t.procs[t.nextPID] = domain.ProcessInfo{PID: t.nextPID, Name: name, Exe: exe}
	return t.nextPID
}

// Exit removes a process.
func (t *FakeProcessTable) Exit(pid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
}

// FailListing makes List fail; nil clears it.
func (t *FakeProcessTable) FailListing(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listErr = err
}

// List returns the current table.
func (t *FakeProcessTable) List(ctx context.Context) ([]domain.ProcessInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listErr != nil {
		return nil, t.listErr
	}
	out := make([]domain.ProcessInfo, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	return out, nil
}

// IsRunning reports whether pid is in the table.
func (t *FakeProcessTable) IsRunning(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.procs[int32(pid)]
	return ok
}

// GetCurrentPID returns the test binary's PID.
func (t *FakeProcessTable) GetCurrentPID() int {
	return os.Getpid()
}

var _ domain.ProcessManager = (*FakeProcessTable)(nil)
