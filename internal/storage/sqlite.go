package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

var _ SessionStore = (*DB)(nil)

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    file_name TEXT NOT NULL,
    file_size INTEGER NOT NULL,
    mime_type TEXT NOT NULL,
    status TEXT NOT NULL,
    owner_hash BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);`
	_, err := d.db.Exec(schema)
	return err
}

// CreateSession inserts a new session. A live session holding the same code
// yields ErrCodeTaken; an expired one is replaced.
func (d *DB) CreateSession(s *Session) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions WHERE code = ? AND expires_at <= ?`, s.Code, s.CreatedAt); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	res, err := tx.Exec(
		`INSERT INTO sessions (id, code, file_name, file_size, mime_type, status, owner_hash, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(code) DO NOTHING`,
		s.ID, s.Code, s.FileName, s.FileSize, s.MimeType, s.Status, s.OwnerHash, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCodeTaken
	}
	return tx.Commit()
}

// GetSession retrieves a session by code.
func (d *DB) GetSession(code string) (*Session, error) {
	s := &Session{}
	err := d.db.QueryRow(
		`SELECT id, code, file_name, file_size, mime_type, status, owner_hash, created_at, expires_at
		 FROM sessions WHERE code = ?`, code,
	).Scan(&s.ID, &s.Code, &s.FileName, &s.FileSize, &s.MimeType, &s.Status, &s.OwnerHash, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// UpdateStatus sets the lifecycle status of a session.
func (d *DB) UpdateStatus(code, status string) error {
	res, err := d.db.Exec(`UPDATE sessions SET status = ? WHERE code = ?`, status, code)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session by code.
func (d *DB) DeleteSession(code string) error {
	res, err := d.db.Exec(`DELETE FROM sessions WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneExpired deletes sessions that expired at or before nowMillis and
// returns how many were removed.
func (d *DB) PruneExpired(nowMillis int64) (int, error) {
	res, err := d.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, nowMillis)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return int(n), nil
}

// CountSessions returns the number of stored sessions.
func (d *DB) CountSessions() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
