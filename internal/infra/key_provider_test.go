package infra

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider_StoreAndGet(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	assert.False(t, provider.KeyExists())

	key, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, provider.StoreKey(key))

	info, err := os.Stat(provider.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := provider.GetKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestFileKeyProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		mode    os.FileMode
		wantErr string
	}{
		{"not hex", "zz-not-hex\n", 0600, "not hex"},
		{"short key", "abcd\n", 0600, "2 bytes"},
		{"readable by others", "00\n", 0644, "has mode 0644"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewFileKeyProvider(t.TempDir())
			require.NoError(t, os.WriteFile(provider.Path(), []byte(tt.content), tt.mode))
			require.NoError(t, os.Chmod(provider.Path(), tt.mode))

			_, err := provider.GetKey()

			assert.ErrorIs(t, err, errKeyUnusable)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileKeyProvider(t.TempDir()).GetKey()
		assert.Error(t, err)
		assert.NotErrorIs(t, err, errKeyUnusable)
	})

	t.Run("wrong size on store", func(t *testing.T) {
		err := NewFileKeyProvider(t.TempDir()).StoreKey([]byte("tooshort"))
		assert.ErrorContains(t, err, "invalid key size")
	})
}

func TestEnsureKey(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())

	first, fresh, err := EnsureKey(provider)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Len(t, first, keySize)

	second, fresh, err := EnsureKey(provider)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, first, second)

	// A leaked key is rotated.
	require.NoError(t, os.Chmod(provider.Path(), 0644))
	third, fresh, err := EnsureKey(provider)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.NotEqual(t, first, third)

	info, err := os.Stat(provider.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
