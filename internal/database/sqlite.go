// Package database is the SQLite operation journal: one row per mutating
// command, with its parameters and outcome.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vaultedge/internal/database/migrations"
	"vaultedge/internal/safebox"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Operation statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation is one journal row.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Operation  string
	Parameters string
	Status     string
}

// SQLiteDatabase is the journal backed by SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock safebox.Clock
}

// NewSQLiteDatabase opens the journal at path (":memory:" for an in-memory
// database). A nil clock uses the wall clock.
func NewSQLiteDatabase(path string, clock safebox.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = safebox.RealClock{}
	}
	return &SQLiteDatabase{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// CreateOperation starts a journal entry and returns it with its new ID.
func (s *SQLiteDatabase) CreateOperation(operation, parameters string) (*Operation, error) {
	op := &Operation{
		StartedAt:  s.clock.Now().UTC(),
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusRunning,
	}
	res, err := s.db.ExecContext(context.Background(),
		`INSERT INTO operations (started_at, operation, parameters, status) VALUES (?, ?, ?, ?)`,
		op.StartedAt, op.Operation, op.Parameters, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return op, nil
}

// FinishOperation records the outcome of operation id.
func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	res, err := s.db.ExecContext(context.Background(),
		`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		s.clock.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing operation: no operation with id %d", id)
	}
	return nil
}

// ListOperations returns up to limit operations, newest first.
func (s *SQLiteDatabase) ListOperations(limit int) ([]*Operation, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, started_at, finished_at, operation, parameters, status
		 FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op := &Operation{}
		if err := rows.Scan(&op.ID, &op.StartedAt, &op.FinishedAt, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// MaxOperationID returns the highest operation ID, or 0 for an empty journal.
func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id int64
	err := s.db.QueryRowContext(context.Background(), `SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// MigrateUp applies pending schema migrations.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
