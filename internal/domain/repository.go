package domain

import "context"

// DisplayAPI is the host display facility.
// Implementations: X11 RandR (infra.RandRDisplay), in-memory (infra.MemoryDisplay).
type DisplayAPI interface {
	// Enumerate lists every known output with identity, flags and geometry.
	Enumerate(ctx context.Context) ([]MonitorDescriptor, error)

	// Configure converges a single output to the desired enabled flag,
	// keeping the descriptor's geometry when enabling.
	Configure(ctx context.Context, desired MonitorDescriptor) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// List returns the running processes. May fail transiently.
	List(ctx context.Context) ([]ProcessInfo, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// Baseline cache slots.
const (
	SlotActive    = "active"    // Baseline of the running suppression
	SlotRecovered = "recovered" // Active slot left behind by a previous session
)

// BaselineStore caches baselines across restarts.
// The cache is advisory: it is never applied without an explicit operator request.
type BaselineStore interface {
	// Save replaces the baseline in a slot.
	Save(slot string, snapshot TopologySnapshot) error

	// Load returns the baseline in a slot, or nil if the slot is empty.
	Load(slot string) (*TopologySnapshot, error)

	// Clear empties a slot.
	Clear(slot string) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// StatusPublisher delivers state changes to the tray surface.
type StatusPublisher interface {
	Publish(report StatusReport) error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
