// Package sqlitestore persists session records in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/session"
)

const migrationV1Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	context    TEXT,
	updated_at DATETIME NOT NULL
);
`

const migrationV2History = `
CREATE TABLE IF NOT EXISTS history (
	session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	request    INTEGER NOT NULL,
	turn_id    TEXT NOT NULL,
	query      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	sql_text   TEXT,
	response   TEXT,
	error_kind TEXT,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, request)
);
CREATE INDEX IF NOT EXISTS idx_history_outcome ON history(outcome);
`

// Store is a session.Store backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var _ session.Store = (*Store)(nil)

// Open opens or creates the database at path and applies migrations. Use
// ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Version returns the applied schema version.
func (s *Store) Version() (int, error) {
	var v int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := s.Version()
	if err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Sessions},
		{2, migrationV2History},
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

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, sessionID string) (*session.Record, error) {
	var (
		rawCtx    sql.NullString
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT context, updated_at FROM sessions WHERE session_id = ?", sessionID,
	).Scan(&rawCtx, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	rec := &session.Record{SessionID: sessionID, UpdatedAt: updatedAt, History: []session.HistoryEntry{}}
	if rawCtx.Valid && rawCtx.String != "" {
		var c orchestrator.SessionContext
		if err := json.Unmarshal([]byte(rawCtx.String), &c); err != nil {
			return nil, fmt.Errorf("decode context of session %s: %w", sessionID, err)
		}
		rec.Context = &c
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT request, turn_id, query, outcome, COALESCE(sql_text, ''), COALESCE(response, ''),
		       COALESCE(error_kind, ''), created_at
		FROM history WHERE session_id = ? ORDER BY request`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history of session %s: %w", sessionID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			h       session.HistoryEntry
			outcome string
			kind    string
		)
		if err := rows.Scan(&h.Request, &h.TurnID, &h.Query, &outcome, &h.SQL, &h.Response, &kind, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.Outcome = orchestrator.Outcome(outcome)
		h.ErrorKind = orchestrator.ErrorKind(kind)
		rec.History = append(rec.History, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return rec, nil
}

// Save implements session.Store. History entries already stored are kept;
// new ones are appended.
func (s *Store) Save(ctx context.Context, rec *session.Record) error {
	var rawCtx sql.NullString
	if rec.Context != nil {
		data, err := json.Marshal(rec.Context)
		if err != nil {
			return fmt.Errorf("encode context of session %s: %w", rec.SessionID, err)
		}
		rawCtx = sql.NullString{String: string(data), Valid: true}
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, context, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at`,
		rec.SessionID, rawCtx, updatedAt.UTC()); err != nil {
		return fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}

	for _, h := range rec.History {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO history
				(session_id, request, turn_id, query, outcome, sql_text, response, error_kind, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, h.Request, h.TurnID, h.Query, string(h.Outcome), h.SQL, h.Response,
			string(h.ErrorKind), h.Timestamp.UTC()); err != nil {
			return fmt.Errorf("save history of session %s: %w", rec.SessionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", rec.SessionID, err)
	}
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// List implements session.Store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT session_id FROM sessions ORDER BY session_id")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
