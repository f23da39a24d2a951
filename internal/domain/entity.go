// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"sort"
	"strings"
	"time"
)

// MonitorDescriptor is an immutable snapshot of one display output.
// Never mutate a descriptor held by a snapshot; build a new one instead.
type MonitorDescriptor struct {
	ID        string  `json:"id"`   // Stable output identity (e.g. RandR output name)
	Name      string  `json:"name"` // Human-readable description
	Enabled   bool    `json:"enabled"`
	Primary   bool    `json:"primary"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	RefreshHz float64 `json:"refresh_hz"`
}

// WithEnabled returns a copy of the descriptor with the enabled flag set.
func (m MonitorDescriptor) WithEnabled(enabled bool) MonitorDescriptor {
	m.Enabled = enabled
	return m
}

// TopologySnapshot is the display configuration at a point in time.
type TopologySnapshot struct {
	Monitors   []MonitorDescriptor `json:"monitors"`
	CapturedAt time.Time           `json:"captured_at"`
}

// NewSnapshot copies the descriptors into a new snapshot.
func NewSnapshot(monitors []MonitorDescriptor, capturedAt time.Time) TopologySnapshot {
	cp := make([]MonitorDescriptor, len(monitors))
	copy(cp, monitors)
	return TopologySnapshot{Monitors: cp, CapturedAt: capturedAt}
}

// Lookup returns the descriptor with the given identity.
func (s TopologySnapshot) Lookup(id string) (MonitorDescriptor, bool) {
	for _, m := range s.Monitors {
		if m.ID == id {
			return m, true
		}
	}
	return MonitorDescriptor{}, false
}

// Primary returns the primary monitor, if the snapshot has one.
func (s TopologySnapshot) Primary() (MonitorDescriptor, bool) {
	for _, m := range s.Monitors {
		if m.Primary {
			return m, true
		}
	}
	return MonitorDescriptor{}, false
}

// EnabledCount returns how many monitors are enabled.
func (s TopologySnapshot) EnabledCount() int {
	n := 0
	for _, m := range s.Monitors {
		if m.Enabled {
			n++
		}
	}
	return n
}

// DisabledSecondaries returns IDs of non-primary monitors that are disabled.
func (s TopologySnapshot) DisabledSecondaries() []string {
	var ids []string
	for _, m := range s.Monitors {
		if !m.Primary && !m.Enabled {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Equal compares snapshots structurally by descriptor identity and enabled flag.
// Order and capture time are ignored.
func (s TopologySnapshot) Equal(other TopologySnapshot) bool {
	if len(s.Monitors) != len(other.Monitors) {
		return false
	}
	for _, m := range s.Monitors {
		o, ok := other.Lookup(m.ID)
		if !ok || o.Enabled != m.Enabled {
			return false
		}
	}
	return true
}

// String renders the snapshot as "A+ B- C+" (sorted by ID), "*" marks primary.
func (s TopologySnapshot) String() string {
	parts := make([]string, 0, len(s.Monitors))
	for _, m := range s.Monitors {
		p := m.ID
		if m.Primary {
			p += "*"
		}
		if m.Enabled {
			p += "+"
		} else {
			p += "-"
		}
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// ProcessTarget describes the executable being watched.
// Created once from configuration and immutable afterward.
type ProcessTarget struct {
	Executable     string        // Name or full path, matched case-insensitively
	PollInterval   time.Duration // Watcher cadence
	DebounceWindow int           // Consecutive confirming polls needed to flip state
}

// WatcherState is the confirmed presence of the target process.
type WatcherState int

const (
	NotRunning WatcherState = iota
	Running
)

func (s WatcherState) String() string {
	if s == Running {
		return "running"
	}
	return "not_running"
}

// ProcessEvent is emitted once per confirmed watcher transition.
type ProcessEvent string

const (
	EventStarted ProcessEvent = "started"
	EventStopped ProcessEvent = "stopped"
)

// ProcessInfo is one entry from the host process list.
type ProcessInfo struct {
	PID  int32
	Name string
	Exe  string // May be empty when the host denies access
}

// SuppressionState is the authoritative display state owned by the suppressor.
type SuppressionState string

const (
	StateIdle        SuppressionState = "idle"
	StateSuppressing SuppressionState = "suppressing"
	StateSuppressed  SuppressionState = "suppressed"
	StateRestoring   SuppressionState = "restoring"
)

// HoldsDisplays reports whether monitors may currently be disabled by us.
func (s SuppressionState) HoldsDisplays() bool {
	return s == StateSuppressing || s == StateSuppressed || s == StateRestoring
}

// TrayIcon is the icon the tray surface shows for a state.
type TrayIcon string

const (
	IconNormal TrayIcon = "normal"
	IconActive TrayIcon = "active"
	IconBusy   TrayIcon = "busy"
)

// IconFor maps a suppression state to its tray icon. A pending restore that
// keeps failing shows busy until it succeeds.
func IconFor(state SuppressionState, restorePending bool) TrayIcon {
	switch state {
	case StateRestoring:
		return IconBusy
	case StateSuppressing, StateSuppressed:
		if restorePending {
			return IconBusy
		}
		return IconActive
	default:
		return IconNormal
	}
}

// StatusReport is what the core publishes to the tray surface.
type StatusReport struct {
	State          SuppressionState `json:"state"`
	Icon           TrayIcon         `json:"icon"`
	Target         string           `json:"target"`
	TargetRunning  bool             `json:"target_running"`
	RestorePending bool             `json:"restore_pending"`
	BaselineSize   int              `json:"baseline_size"`
	Disabled       []string         `json:"disabled,omitempty"` // Monitors we disabled
	LastError      string           `json:"last_error,omitempty"`
	ChangedAt      time.Time        `json:"changed_at"`
	PID            int              `json:"pid"`
}

// Command is a request from the tray surface to the core.
type Command string

const (
	CmdRestore Command = "restore" // Force restore in any state
	CmdQuit    Command = "quit"    // Restore (if needed) and exit
)
