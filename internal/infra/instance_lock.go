package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	lockFileName   = "monsup.lock"
	lockAttempts   = 5
	lockRetryDelay = 10 * time.Millisecond
)

// ErrAlreadyRunning is returned when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// InstanceLock is an exclusive flock on <stateDir>/monsup.lock.
// The holder writes its PID into the file so stop and status can find it.
type InstanceLock struct {
	path string
	file *os.File
}

// LockPath returns the lock file path in a state directory.
func LockPath(stateDir string) string {
	return filepath.Join(stateDir, lockFileName)
}

// AcquireInstanceLock takes the lock without blocking.
func AcquireInstanceLock(stateDir string) (*InstanceLock, error) {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	path := LockPath(stateDir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := flockWithGrace(f); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid, perr := ReadPID(stateDir); perr == nil {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
			}
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to sync lock file: %w", err)
	}
	return &InstanceLock{path: path, file: f}, nil
}

// flockWithGrace takes the exclusive lock, retrying briefly so a concurrent
// InstanceRunning check does not make a starting instance give up.
func flockWithGrace(f *os.File) error {
	var err error
	for i := 0; i < lockAttempts; i++ {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return err
		}
		time.Sleep(lockRetryDelay)
	}
	return err
}

// Release clears the PID and drops the lock.
func (l *InstanceLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadPID returns the PID recorded in the lock file. A stale file left by a
// crashed instance still returns its PID; use InstanceRunning for liveness.
func ReadPID(stateDir string) (int, error) {
	data, err := os.ReadFile(LockPath(stateDir))
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, fmt.Errorf("no pid recorded")
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid pid %q: %w", s, err)
	}
	return pid, nil
}

// InstanceRunning reports whether some process holds the lock, and the PID
// it recorded. The lock is tested with a shared non-blocking flock released
// at once, so a stale file whose PID was reused does not count.
func InstanceRunning(stateDir string) (int, bool) {
	f, err := os.Open(LockPath(stateDir))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return 0, false
	}
	pid, _ := ReadPID(stateDir)
	return pid, true
}
