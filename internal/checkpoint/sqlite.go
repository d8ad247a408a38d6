package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultName is the checkpoint row used when none is configured
const DefaultName = "events"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	name    string
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the checkpoint database at dbPath.
// name selects the row, so several pipelines can share one file.
func NewSQLiteStore(dbPath, name string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("checkpoint path cannot be empty")
	}
	if name == "" {
		name = DefaultName
	}

	// FULL sync: a committed checkpoint must survive power loss
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer at a time; readers share the same handle
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{
		db:   db,
		name: name,
	}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		name TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Read returns the stored watermark with retry on busy
func (s *SQLiteStore) Read(ctx context.Context) (*time.Time, error) {
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	var result *time.Time
	err := s.retryOnBusy(ctx, func() error {
		var err error
		result, err = s.readInternal(ctx)
		return err
	})
	return result, err
}

func (s *SQLiteStore) readInternal(ctx context.Context) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE name = ?`, s.name)

	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ts, err := Parse(value)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %q: %w", s.name, err)
	}
	return &ts, nil
}

// Write upserts the watermark in a transaction with retry on busy
func (s *SQLiteStore) Write(ctx context.Context, ts time.Time) error {
	if s.closed {
		return fmt.Errorf("checkpoint store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(ctx, func() error {
		return s.writeWithTransaction(ctx, ts)
	})
}

func (s *SQLiteStore) writeWithTransaction(ctx context.Context, ts time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO checkpoints (name, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`

	if _, err := tx.ExecContext(ctx, query, s.name, Format(ts), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to execute upsert: %w", err)
	}

	return tx.Commit()
}

// retryOnBusy retries the operation while SQLite reports the database locked
func (s *SQLiteStore) retryOnBusy(ctx context.Context, operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}

		delay := baseDelay*time.Duration(1<<uint(attempt)) + time.Duration(attempt*10)*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
