package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/tendant/simple-invalidation/pkg/invalidation"
)

// Log is an in-memory implementation of the invalidation.AuditLog interface.
// Records are stored encoded so readers never share memory with writers.
type Log struct {
	mu      sync.RWMutex
	lines   []string
	failErr error
}

// New creates a new in-memory audit log
func New() *Log {
	return &Log{}
}

// Append stores the record
func (l *Log) Append(ctx context.Context, record *invalidation.AuditRecord) error {
	if record == nil {
		return errors.New("record is required")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	l.lines = append(l.lines, string(data))
	return nil
}

// AppendRaw stores a line verbatim, bypassing encoding
func (l *Log) AppendRaw(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

// FailWith makes subsequent appends return err. Pass nil to recover.
func (l *Log) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

// Len returns the number of stored lines
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lines)
}

// ReadAll returns every entry, newest first
func (l *Log) ReadAll(ctx context.Context) ([]invalidation.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]invalidation.AuditEntry, 0, len(l.lines))
	for i := len(l.lines) - 1; i >= 0; i-- {
		entries = append(entries, invalidation.ParseAuditLine(l.lines[i]))
	}
	return entries, nil
}
