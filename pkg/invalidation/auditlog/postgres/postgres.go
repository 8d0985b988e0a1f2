package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
)

// Schema creates the audit table. Records are stored as the same JSON
// document the file backend writes, keyed by an increasing id.
const Schema = `
CREATE TABLE IF NOT EXISTS invalidation_audit (
	id         BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	user_email TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	record     TEXT NOT NULL
)`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Log implements invalidation.AuditLog using PostgreSQL
type Log struct {
	db DBTX
}

// New creates a new PostgreSQL audit log
func New(db DBTX) *Log {
	return &Log{db: db}
}

// NewWithPool creates a new PostgreSQL audit log with connection pool
func NewWithPool(pool *pgxpool.Pool) *Log {
	return &Log{db: pool}
}

// Migrate creates the audit table if it does not exist
func (l *Log) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, Schema); err != nil {
		return l.handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func (l *Log) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Append inserts the record; rows are never updated
func (l *Log) Append(ctx context.Context, record *invalidation.AuditRecord) error {
	if record == nil {
		return errors.New("record is required")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	query := `INSERT INTO invalidation_audit (created_at, user_email, outcome, record) VALUES ($1, $2, $3, $4)`
	if _, err := l.db.Exec(ctx, query, record.Timestamp, record.User, string(record.Outcome), string(data)); err != nil {
		return l.handlePostgresError("append audit record", err)
	}
	return nil
}

// ReadAll returns every record, newest first
func (l *Log) ReadAll(ctx context.Context) ([]invalidation.AuditEntry, error) {
	rows, err := l.db.Query(ctx, `SELECT record FROM invalidation_audit ORDER BY id DESC`)
	if err != nil {
		return nil, l.handlePostgresError("read audit log", err)
	}
	defer rows.Close()

	entries := []invalidation.AuditEntry{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, l.handlePostgresError("scan audit record", err)
		}
		entries = append(entries, invalidation.ParseAuditLine(line))
	}
	if err := rows.Err(); err != nil {
		return nil, l.handlePostgresError("read audit log", err)
	}
	return entries, nil
}
