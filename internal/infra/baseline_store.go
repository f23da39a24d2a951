package infra

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

const baselineDBName = "baseline.db"

// EncryptedBaselineStore implements domain.BaselineStore using a SQLCipher
// encrypted SQLite database. One row per slot.
type EncryptedBaselineStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedBaselineStore opens (or creates) the baseline database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedBaselineStore(dataDir string, key []byte) (*EncryptedBaselineStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, baselineDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open baseline database: %w", err)
	}

	// A wrong key only shows up on first query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to baseline database: %w", err)
	}

	store := &EncryptedBaselineStore{db: db, dbPath: dbPath}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// OpenBaselineStore ensures a key in dataDir and opens the store with it.
// When the key had to be replaced, the old database is discarded: the cache
// is advisory and cannot be read without its key.
func OpenBaselineStore(dataDir string) (*EncryptedBaselineStore, error) {
	key, fresh, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, err
	}
	if fresh {
		if err := removeBaselineDB(dataDir); err != nil {
			return nil, err
		}
	}
	return NewEncryptedBaselineStore(dataDir, key)
}

func removeBaselineDB(dataDir string) error {
	base := filepath.Join(dataDir, baselineDBName)
	for _, path := range []string{base, base + "-journal", base + "-wal", base + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to reset baseline database: %w", err)
		}
	}
	return nil
}

func (s *EncryptedBaselineStore) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS baselines (
		slot TEXT PRIMARY KEY,
		captured_at INTEGER NOT NULL,
		saved_at INTEGER NOT NULL,
		monitors TEXT NOT NULL
	);`)
	return err
}

// Save replaces the baseline in a slot.
func (s *EncryptedBaselineStore) Save(slot string, snapshot domain.TopologySnapshot) error {
	payload, err := json.Marshal(snapshot.Monitors)
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO baselines (slot, captured_at, saved_at, monitors)
		VALUES (?, ?, ?, ?)`,
		slot, snapshot.CapturedAt.UnixNano(), time.Now().Unix(), string(payload),
	)
	return err
}

// Load returns the baseline in a slot, or nil if the slot is empty.
func (s *EncryptedBaselineStore) Load(slot string) (*domain.TopologySnapshot, error) {
	var capturedAt int64
	var payload string
	err := s.db.QueryRow(`SELECT captured_at, monitors FROM baselines WHERE slot = ?`, slot).
		Scan(&capturedAt, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var monitors []domain.MonitorDescriptor
	if err := json.Unmarshal([]byte(payload), &monitors); err != nil {
		return nil, fmt.Errorf("corrupt baseline in slot %s: %w", slot, err)
	}
	snap := domain.NewSnapshot(monitors, time.Unix(0, capturedAt))
	return &snap, nil
}

// Clear empties a slot.
func (s *EncryptedBaselineStore) Clear(slot string) error {
	_, err := s.db.Exec(`DELETE FROM baselines WHERE slot = ?`, slot)
	return err
}

// Path returns the database file path.
func (s *EncryptedBaselineStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedBaselineStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ domain.BaselineStore = (*EncryptedBaselineStore)(nil)
