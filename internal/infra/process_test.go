package infra

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessManager_ListIncludesSelf(t *testing.T) {
	pm := NewProcessManager()

	procs, err := pm.List(context.Background())
	require.NoError(t, err)

	self := int32(os.Getpid())
	found := false
	for _, p := range procs {
		if p.PID == self {
			found = true
			assert.NotEmpty(t, p.Name)
		}
	}
	assert.True(t, found, "current process should be listed")
}

func TestProcessManager_IsRunning(t *testing.T) {
	pm := NewProcessManager()

	tests := []struct {
		name string
		pid  int
		want bool
	}{
		{"self", os.Getpid(), true},
		{"zero", 0, false},
		{"negative", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pm.IsRunning(tt.pid))
		})
	}
	assert.Equal(t, os.Getpid(), pm.GetCurrentPID())
}
