package fs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tendant/simple-invalidation/pkg/invalidation"
)

// Log is a newline-delimited JSON implementation of the
// invalidation.AuditLog interface. Appends are serialized through a mutex so
// each record lands as one whole line.
type Log struct {
	mu   sync.Mutex
	path string
}

// Config options for the file audit log
type Config struct {
	Path string // Path of the log file; parent directories are created
}

// New creates a new file-backed audit log
func New(config Config) (*Log, error) {
	if config.Path == "" {
		return nil, errors.New("audit log path is required")
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	return &Log{path: config.Path}, nil
}

// Path returns the file the log writes to
func (l *Log) Path() string {
	return l.path
}

// Append writes the record as a single line and syncs it to disk
func (l *Log) Append(ctx context.Context, record *invalidation.AuditRecord) error {
	if record == nil {
		return errors.New("record is required")
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return f.Close()
}

// ReadAll reads every line, newest first. Lines that do not decode are kept
// as raw entries.
func (l *Log) ReadAll(ctx context.Context) ([]invalidation.AuditEntry, error) {
	l.mu.Lock()
	data, err := os.ReadFile(l.path)
	l.mu.Unlock()

	if errors.Is(err, os.ErrNotExist) {
		return []invalidation.AuditEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var entries []invalidation.AuditEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for scanner.Scan() {
		line := scanner.Text()
		if len(bytes.TrimSpace([]byte(line))) == 0 {
			continue
		}
		entries = append(entries, invalidation.ParseAuditLine(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	reversed := make([]invalidation.AuditEntry, len(entries))
	for i, e := range entries {
		reversed[len(entries)-1-i] = e
	}
	return reversed, nil
}
