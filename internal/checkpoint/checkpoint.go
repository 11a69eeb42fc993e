// Package checkpoint provides a SQLite-backed CheckpointStore: crash-recovery
// storage for a task's last known-good state, keyed by task ID. It is not
// required for correctness within a single process lifetime — on restart, a
// non-terminal TaskRun can re-attach from its last checkpoint instead of
// restarting the Ralph loop from scratch.
package checkpoint

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed CheckpointStore: Save/Load persist an opaque
// blob (the caller's serialized checkpoint representation) per task ID.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// GlobalDBPath returns the path to the global, cross-project checkpoint database.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "nexus", "nexus.db")
}

// ProjectDBPath returns the path to the project-local checkpoint database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".nexus", "checkpoints.db")
}

// Open opens (creating if necessary) a SQLite-backed Store at path, enables
// WAL mode for concurrent reads, and applies pending schema migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenProject opens the project-local checkpoint database under projectRoot.
func OpenProject(projectRoot string) (*Store, error) {
	return Open(ProjectDBPath(projectRoot))
}

const migrationV1Checkpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	task_id TEXT PRIMARY KEY,
	blob BLOB NOT NULL,
	tag TEXT,
	revision TEXT,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints(updated_at);
`

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Checkpoints},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the checkpoint database file.
func (s *Store) Path() string {
	return s.path
}

// Save persists blob as the checkpoint for taskID, overwriting any previous
// checkpoint for the same task. tag and revision are optional labels (e.g.
// the checkpoint tag name and revision hash recorded in an EscalationReport)
// carried alongside the blob for diagnostic lookups; either may be empty.
func (s *Store) Save(taskID string, blob []byte, tag, revision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO checkpoints (task_id, blob, tag, revision, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			blob = excluded.blob,
			tag = excluded.tag,
			revision = excluded.revision,
			updated_at = excluded.updated_at
	`, taskID, blob, tag, revision, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save checkpoint for task %s: %w", taskID, err)
	}
	return nil
}

// Load returns the most recently saved checkpoint blob for taskID. found is
// false if no checkpoint has ever been saved for that task.
func (s *Store) Load(taskID string) (blob []byte, found bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT blob FROM checkpoints WHERE task_id = ?`, taskID)
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load checkpoint for task %s: %w", taskID, err)
	}
	return blob, true, nil
}

// Delete removes any checkpoint recorded for taskID. It is not an error to
// delete a task with no checkpoint.
func (s *Store) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete checkpoint for task %s: %w", taskID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
