package learning

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"github.com/nexus-build/nexus/pkg/models"
)

// Memory is one retrievable record of a past escalation: what kind of error
// it was, how severe, and what the agent said about fixing it.
type Memory struct {
	ID            string
	TaskID        string
	Kind          models.ErrorKind
	Severity      models.Severity
	Summary       string
	FixSuggestion string
	CreatedAt     time.Time
}

// Store is a SQLite-backed, FTS5-indexed memory store.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// GlobalDBPath returns the path to the cross-project memory database.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "nexus", "memories.db")
}

// ProjectDBPath returns the path to the project-local memory database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".nexus", "memories.db")
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	summary TEXT NOT NULL,
	fix_suggestion TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	summary,
	fix_suggestion,
	content='memories',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, summary, fix_suggestion)
	VALUES (NEW.rowid, NEW.summary, NEW.fix_suggestion);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, summary, fix_suggestion)
	VALUES ('delete', OLD.rowid, OLD.summary, OLD.fix_suggestion);
END;
`

// NewStore opens (creating if necessary) a SQLite-backed Store at dbPath and
// applies the schema migration.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(migrationV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists m, assigning it an ID and CreatedAt if unset.
func (s *Store) Record(m *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO memories (id, task_id, kind, severity, summary, fix_suggestion, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.TaskID, string(m.Kind), string(m.Severity), m.Summary, m.FixSuggestion, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("record memory: %w", err)
	}
	return nil
}

// Get returns the memory with the given ID, or nil if none exists.
func (s *Store) Get(id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, task_id, kind, severity, summary, fix_suggestion, created_at
		FROM memories WHERE id = ?
	`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// Delete removes the memory with the given ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// List returns the limit most recent memories, newest first.
func (s *Store) List(limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, task_id, kind, severity, summary, fix_suggestion, created_at
		FROM memories ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Search performs a keyword search over summary and fix suggestion text,
// ranked by SQLite's bm25 score, and returns at most k results.
func (s *Store) Search(query string, k int) ([]*Memory, error) {
	ftsQuery := toFTSQuery(query)
	if ftsQuery == "" || k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT m.id, m.task_id, m.kind, m.severity, m.summary, m.fix_suggestion, m.created_at
		FROM memories m
		JOIN memories_fts f ON m.rowid = f.rowid
		WHERE memories_fts MATCH ?
		ORDER BY bm25(memories_fts)
		LIMIT ?
	`, ftsQuery, k)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemory(row *sql.Row) (*Memory, error) {
	m := &Memory{}
	var kind, severity string
	var fixSuggestion sql.NullString
	if err := row.Scan(&m.ID, &m.TaskID, &kind, &severity, &m.Summary, &fixSuggestion, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Kind = models.ErrorKind(kind)
	m.Severity = models.Severity(severity)
	m.FixSuggestion = fixSuggestion.String
	return m, nil
}

func scanMemories(rows *sql.Rows) ([]*Memory, error) {
	var out []*Memory
	for rows.Next() {
		m := &Memory{}
		var kind, severity string
		var fixSuggestion sql.NullString
		if err := rows.Scan(&m.ID, &m.TaskID, &kind, &severity, &m.Summary, &fixSuggestion, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Kind = models.ErrorKind(kind)
		m.Severity = models.Severity(severity)
		m.FixSuggestion = fixSuggestion.String
		out = append(out, m)
	}
	return out, rows.Err()
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]*`)

// toFTSQuery turns free text into an FTS5 MATCH query, ORing together its
// significant words so a partial match on any of them still ranks. FTS5's
// query syntax treats unescaped punctuation as operators, so tokenizing down
// to bare words also sidesteps injection through that operator syntax.
func toFTSQuery(text string) string {
	words := wordPattern.FindAllString(text, -1)
	if len(words) == 0 {
		return ""
	}

	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		lw := strings.ToLower(w)
		if len(lw) < 3 || seen[lw] {
			continue
		}
		seen[lw] = true
		terms = append(terms, lw)
	}
	return strings.Join(terms, " OR ")
}
