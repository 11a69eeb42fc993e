// Package nexuslog provides the file-based debug logger shared by the
// core's components. There is no structured-logging dependency here by
// design — every component that needs to record a best-effort warning
// (a failed tag creation, a skipped QA capability, a dropped event) logs
// through this package the same way, writing timestamped lines to a
// single project-local log file.
package nexuslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is a thread-safe append-only file logger. The zero value and a
// nil pointer are both valid no-ops, so components can hold a *Logger
// field without needing to nil-check before every call site beyond the
// methods themselves.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// New opens (creating parent directories as needed) a logger writing to
// path. An empty path returns a no-op logger.
func New(path string) (*Logger, error) {
	if path == "" {
		return &Logger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := &Logger{file: f}
	l.Log("=== nexus log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// ForProject opens the default project-local log at
// <repoPath>/.nexus/logs/nexus.log, falling back to a no-op logger if it
// cannot be created.
func ForProject(repoPath string) *Logger {
	path := filepath.Join(repoPath, ".nexus", "logs", "nexus.log")
	l, err := New(path)
	if err != nil {
		return &Logger{}
	}
	return l
}

// Nop returns a logger that discards everything, for tests and for
// components run without a project directory.
func Nop() *Logger {
	return &Logger{}
}

// Log writes a timestamped line. Safe to call on a nil *Logger or one
// with no open file.
func (l *Logger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
	l.file.Sync()
}

// Warn logs a warning-level line. Nexus has no severity-filtered output;
// the prefix alone distinguishes it in the file.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.Log("WARN "+format, args...)
}

// Close closes the underlying file. Safe to call on a nil *Logger.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
