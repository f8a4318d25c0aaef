// Package checkpoint persists run checkpoints in SQLite so a suspended
// workflow can resume in a separate process invocation.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/aristath/devflow/internal/engine"
	"github.com/aristath/devflow/internal/state"
)

// SQLiteStore implements engine.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store at the given path. Creates
// parent directories if needed. Enables WAL mode and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Uses a shared cache so multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		author TEXT,
		text TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_run_history_run_seq
		ON run_history(run_id, seq);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save upserts the checkpoint for a run. The history rows are rewritten
// on each save so they always mirror the snapshot.
func (s *SQLiteStore) Save(ctx context.Context, cp *engine.Checkpoint) error {
	raw, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshaling state for run %s: %w", cp.RunID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, step, status, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			step = excluded.step,
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		cp.RunID, cp.Step, string(cp.Status), string(raw), cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving checkpoint for run %s: %w", cp.RunID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_history WHERE run_id = ?`, cp.RunID); err != nil {
		return fmt.Errorf("clearing history for run %s: %w", cp.RunID, err)
	}
	for i, msg := range cp.State.History {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_history (run_id, seq, role, author, text)
			VALUES (?, ?, ?, ?, ?)`,
			cp.RunID, i, msg.Role, msg.Author, msg.Text)
		if err != nil {
			return fmt.Errorf("saving history for run %s: %w", cp.RunID, err)
		}
	}

	return tx.Commit()
}

// Load returns the checkpoint for a run, or engine.ErrRunNotFound.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (*engine.Checkpoint, error) {
	cp := &engine.Checkpoint{RunID: runID}
	var status, raw string

	row := s.db.QueryRowContext(ctx, `
		SELECT step, status, state, updated_at FROM runs WHERE run_id = ?`, runID)
	if err := row.Scan(&cp.Step, &status, &raw, &cp.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.ErrRunNotFound
		}
		return nil, fmt.Errorf("loading checkpoint for run %s: %w", runID, err)
	}
	cp.Status = engine.Status(status)

	st := &state.State{}
	if err := json.Unmarshal([]byte(raw), st); err != nil {
		return nil, fmt.Errorf("unmarshaling state for run %s: %w", runID, err)
	}
	cp.State = st
	return cp, nil
}

// History returns the persisted conversation history for a run in order.
func (s *SQLiteStore) History(ctx context.Context, runID string) ([]state.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, author, text FROM run_history WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying history for run %s: %w", runID, err)
	}
	defer rows.Close()

	var history []state.Message
	for rows.Next() {
		var msg state.Message
		var author sql.NullString
		if err := rows.Scan(&msg.Role, &author, &msg.Text); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		msg.Author = author.String
		history = append(history, msg)
	}
	return history, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
