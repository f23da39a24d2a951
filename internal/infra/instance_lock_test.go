package infra

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceLock_AcquireWritesPID(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireInstanceLock(dir)
	require.NoError(t, err)
	defer lock.Release()

	pid, err := ReadPID(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestInstanceLock_SecondAcquireFails(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireInstanceLock(dir)
	require.NoError(t, err)
	defer lock.Release()

	// flock is per open file description, so a second open in the same
	// process still conflicts.
	_, err = AcquireInstanceLock(dir)

	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestInstanceLock_ReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireInstanceLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	_, err = ReadPID(dir)
	assert.Error(t, err, "pid cleared on release")

	again, err := AcquireInstanceLock(dir)
	require.NoError(t, err)
	assert.NoError(t, again.Release())
	assert.NoError(t, again.Release(), "double release is a no-op")
}

func TestReadPID_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(LockPath(dir), []byte("abc"), 0600))

	_, err := ReadPID(dir)
	assert.ErrorContains(t, err, "invalid pid")
}

func TestInstanceRunning(t *testing.T) {
	dir := t.TempDir()

	_, running := InstanceRunning(dir)
	assert.False(t, running, "no lock file")

	lock, err := AcquireInstanceLock(dir)
	require.NoError(t, err)

	pid, running := InstanceRunning(dir)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, lock.Release())
	_, running = InstanceRunning(dir)
	assert.False(t, running, "released lock")

	// A crashed holder leaves its pid behind. Even when that pid now belongs
	// to a live process, nobody holds the lock.
	require.NoError(t, os.WriteFile(LockPath(dir), []byte(strconv.Itoa(os.Getpid())+"\n"), 0600))
	_, running = InstanceRunning(dir)
	assert.False(t, running, "stale pid reused by a live process")

	again, err := AcquireInstanceLock(dir)
	require.NoError(t, err, "checking never keeps the lock")
	assert.NoError(t, again.Release())
}
