// Package applog provides the daemon's rotating log file, used the way the
// teacher repo uses the standard log package throughout (plain
// log.Printf/log.Fatalf, no structured logging library).
package applog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// MaxSizeBytes is the rotation threshold from spec.md §6 (5 MiB).
const MaxSizeBytes = 5 * 1024 * 1024

// Logger wraps the standard logger with size-based rotation to a ".old"
// sibling file and an optional verbose gate.
type Logger struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	std     *log.Logger
	verbose bool
}

// New opens (creating if needed) the log file at path and returns a Logger
// writing to both it and stderr isn't done here -- callers that want
// console echo use Printf and fmt.Println side by side, matching the
// teacher's habit of plain fmt.Println for interactive output and log.Printf
// for daemon diagnostics.
func New(path string, verbose bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l := &Logger{
		path:    path,
		file:    f,
		std:     log.New(f, "", log.LstdFlags),
		verbose: verbose,
	}
	return l, nil
}

// Printf logs at normal level.
func (l *Logger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.std.Printf(format, args...)
	l.rotateIfNeededLocked()
}

// Debugf logs only when verbose mode is enabled (REMOTECODE_VERBOSE).
func (l *Logger) Debugf(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.Printf("[debug] "+format, args...)
}

// Errorf logs an error-level line. Kept distinct from Printf so future
// filtering (e.g. forwarding to an error tracker) has a single call site.
func (l *Logger) Errorf(format string, args ...any) {
	l.Printf("[error] "+format, args...)
}

func (l *Logger) rotateIfNeededLocked() {
	info, err := l.file.Stat()
	if err != nil || info.Size() < MaxSizeBytes {
		return
	}
	oldPath := l.path + ".old"
	l.file.Close()
	os.Remove(oldPath)
	os.Rename(l.path, oldPath)
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// Fall back to stderr rather than losing the process over a log
		// rotation failure.
		l.file = os.Stderr
		l.std = log.New(os.Stderr, "", log.LstdFlags)
		return
	}
	l.file = f
	l.std = log.New(f, "", log.LstdFlags)
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Fatalf logs and exits, mirroring log.Fatalf used throughout the teacher's
// cmd/ricochet/main.go for unrecoverable startup errors.
func (l *Logger) Fatalf(format string, args ...any) {
	l.Printf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
