package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/backgrounder/internal/model"

	_ "modernc.org/sqlite"
)

const createTransitionsTable = `
CREATE TABLE IF NOT EXISTS transitions (
    id         TEXT PRIMARY KEY,
    app_id     TEXT NOT NULL,
    event      TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state   TEXT NOT NULL,
    method     INTEGER NOT NULL,
    action     TEXT NOT NULL,
    forced     INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
)`

const createTransitionsIndex = `
CREATE INDEX IF NOT EXISTS idx_transitions_app ON transitions (app_id, created_at)`

const createDiagnosticsTable = `
CREATE TABLE IF NOT EXISTS diagnostics (
    id         TEXT PRIMARY KEY,
    code       TEXT NOT NULL,
    message    TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`

const transitionColumns = `id, app_id, event, from_state, to_state, method, action, forced, created_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createTransitionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transitions table: %w", err)
	}

	if _, err := db.Exec(createTransitionsIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transitions index: %w", err)
	}

	if _, err := db.Exec(createDiagnosticsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create diagnostics table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordTransition inserts a transition record.
func (s *SQLiteStore) RecordTransition(ctx context.Context, t model.Transition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (`+transitionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AppID, string(t.Event), string(t.From), string(t.To),
		int(t.Method), string(t.Action), t.Forced, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListTransitions returns a page of transitions ordered newest first, along
// with the total count. An empty appID lists every application.
func (s *SQLiteStore) ListTransitions(ctx context.Context, appID string, limit, offset int) ([]model.Transition, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	where := ""
	args := []any{}
	if appID != "" {
		where = " WHERE app_id = ?"
		args = append(args, appID)
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM transitions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transitions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+transitionColumns+` FROM transitions`+where+
			` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []model.Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, 0, err
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transitions: %w", err)
	}

	return transitions, total, nil
}

// LastTransition returns the most recent transition for appID.
func (s *SQLiteStore) LastTransition(ctx context.Context, appID string) (*model.Transition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transitionColumns+` FROM transitions WHERE app_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, appID,
	)
	t, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransitionStats returns aggregate statistics over all transitions.
// Counts by state and method use the latest transition of each application.
func (s *SQLiteStore) GetTransitionStats(ctx context.Context) (*TransitionStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &TransitionStats{
		CountByState:  make(map[string]int),
		CountByMethod: make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(forced), 0), COUNT(DISTINCT app_id) FROM transitions`,
	).Scan(&stats.Total, &stats.Forced, &stats.Apps); err != nil {
		return nil, fmt.Errorf("count transitions: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT t.to_state, t.method FROM transitions t
		WHERE t.id = (
			SELECT id FROM transitions l WHERE l.app_id = t.app_id
			ORDER BY l.created_at DESC, l.id DESC LIMIT 1
		)`)
	if err != nil {
		return nil, fmt.Errorf("latest transitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var method int
		if err := rows.Scan(&state, &method); err != nil {
			return nil, fmt.Errorf("scan latest transition: %w", err)
		}
		stats.CountByState[state]++
		stats.CountByMethod[model.Method(method).String()]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest transitions: %w", err)
	}

	return stats, nil
}

// RecordDiagnostic inserts a diagnostic record.
func (s *SQLiteStore) RecordDiagnostic(ctx context.Context, d model.Diagnostic) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO diagnostics (id, code, message, created_at) VALUES (?, ?, ?, ?)`,
		d.ID, d.Code, d.Message, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert diagnostic: %w", err)
	}
	return nil
}

// ListDiagnostics returns every diagnostic ordered oldest first.
func (s *SQLiteStore) ListDiagnostics(ctx context.Context) ([]model.Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, message, created_at FROM diagnostics ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list diagnostics: %w", err)
	}
	defer rows.Close()

	var diags []model.Diagnostic
	for rows.Next() {
		var d model.Diagnostic
		if err := rows.Scan(&d.ID, &d.Code, &d.Message, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		diags = append(diags, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}
	return diags, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransition(r rowScanner) (model.Transition, error) {
	var (
		t                       model.Transition
		event, from, to, action string
		method                  int
	)
	err := r.Scan(&t.ID, &t.AppID, &event, &from, &to, &method, &action, &t.Forced, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, err
	}
	if err != nil {
		return t, fmt.Errorf("scan transition: %w", err)
	}
	t.Event = model.EventType(event)
	t.From = model.State(from)
	t.To = model.State(to)
	t.Method = model.Method(method)
	t.Action = model.Action(action)
	return t, nil
}
