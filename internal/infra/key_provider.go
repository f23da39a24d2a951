package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

const (
	keyFileName = "baseline.key"
	keySize     = 32 // 256-bit SQLCipher key
)

// errKeyUnusable marks a key file that exists but cannot protect the cache.
var errKeyUnusable = errors.New("baseline key unusable")

// FileKeyProvider keeps the baseline cache key as hex in the state directory,
// readable by the owner only.
type FileKeyProvider struct {
	path string
}

// NewFileKeyProvider creates a provider for the key in stateDir.
func NewFileKeyProvider(stateDir string) *FileKeyProvider {
	return &FileKeyProvider{path: filepath.Join(stateDir, keyFileName)}
}

// Path returns the key file path.
func (p *FileKeyProvider) Path() string {
	return p.path
}

// GetKey reads the key. A file other users can read is rejected as unusable.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline key: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s has mode %04o", errKeyUnusable, p.path, perm)
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not hex: %w", errKeyUnusable, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", errKeyUnusable, len(key), keySize)
	}
	return key, nil
}

// StoreKey replaces the key file atomically.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, keyFileName+"-*.tmp") // Created 0600
	if err != nil {
		return fmt.Errorf("failed to write baseline key: %w", err)
	}
	if _, err := tmp.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write baseline key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write baseline key: %w", err)
	}
	return os.Rename(tmp.Name(), p.path)
}

// KeyExists checks if the key file exists.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// GenerateKey creates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns a usable key, generating one when none exists or the
// stored one is unusable. fresh reports that the key is new, so anything
// encrypted under a previous key is unreadable.
func EnsureKey(provider domain.KeyProvider) (key []byte, fresh bool, err error) {
	if provider.KeyExists() {
		stored, gerr := provider.GetKey()
		if gerr == nil {
			return stored, false, nil
		}
		if !errors.Is(gerr, errKeyUnusable) {
			return nil, false, gerr
		}
	}
	key, err = GenerateKey()
	if err != nil {
		return nil, false, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

var _ domain.KeyProvider = (*FileKeyProvider)(nil)
