// Package ipc carries state between the running daemon and CLI invocations
// through files in the state directory.
package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

const statusFileName = "status.json"

// StatusFile publishes StatusReport to <stateDir>/status.json.
type StatusFile struct {
	path string
}

// NewStatusFile creates a publisher writing into stateDir.
func NewStatusFile(stateDir string) *StatusFile {
	return &StatusFile{path: filepath.Join(stateDir, statusFileName)}
}

// Path returns the status file path.
func (s *StatusFile) Path() string {
	return s.path
}

// Publish replaces the status file atomically.
func (s *StatusFile) Publish(report domain.StatusReport) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return atomicWriteJSON(s.path, report)
}

// Remove deletes the status file on clean exit.
func (s *StatusFile) Remove() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReadStatus loads the last published report from stateDir.
func ReadStatus(stateDir string) (*domain.StatusReport, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, statusFileName))
	if err != nil {
		return nil, err
	}
	var report domain.StatusReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("corrupt status file: %w", err)
	}
	return &report, nil
}

// atomicWriteJSON writes data to a temp file in the same directory and renames it over path.
func atomicWriteJSON(path string, data interface{}) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil

	return os.Rename(tmpPath, path)
}

var _ domain.StatusPublisher = (*StatusFile)(nil)
