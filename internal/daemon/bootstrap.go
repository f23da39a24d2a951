package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// StartDetached re-executes this binary as "run" in a new session with no
// terminal attached. args are appended after "run" (config and flag overrides).
// Returns the child PID.
func StartDetached(args ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to locate executable: %w", err)
	}
	return StartDetachedWithPath(executable, args...)
}

// StartDetachedWithPath starts the given binary detached.
func StartDetachedWithPath(executable string, args ...string) (int, error) {
	cmd := exec.Command(executable, append([]string{"run"}, args...)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// The child outlives us; don't keep a zombie-reaping handle around.
	_ = cmd.Process.Release()
	return pid, nil
}
