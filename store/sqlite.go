package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	loom "github.com/everydev1618/goloom"
)

// SQLiteStore persists runs in a SQLite database using modernc.org/sqlite
// (pure Go). The full state document lives in one column; status and
// interaction rows are denormalized beside it so listings and audit
// queries need no document decode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		doc        TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interactions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id        TEXT NOT NULL,
		request_id    TEXT NOT NULL,
		op            TEXT NOT NULL,
		model         TEXT NOT NULL DEFAULT '',
		prompt        TEXT NOT NULL DEFAULT '',
		response      TEXT NOT NULL DEFAULT '',
		tool_calls    INTEGER NOT NULL DEFAULT 0,
		round         INTEGER NOT NULL DEFAULT 0,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms    INTEGER NOT NULL DEFAULT 0,
		at            DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_interactions_run ON interactions(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun upserts the run document and rewrites its interaction rows.
func (s *SQLiteStore) SaveRun(ctx context.Context, st *loom.State) error {
	doc, err := loom.Serialize(st)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, status, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, doc = excluded.doc, updated_at = excluded.updated_at`,
		st.ID, string(st.Status), string(doc), time.Now().UTC(),
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE run_id = ?`, st.ID); err != nil {
		return err
	}
	for _, it := range st.Interactions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO interactions
			 (run_id, request_id, op, model, prompt, response, tool_calls, round, input_tokens, output_tokens, latency_ms, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, it.ID, string(it.Op), it.Model, it.Prompt, it.Response,
			it.ToolCalls, it.Round, it.Usage.InputTokens, it.Usage.OutputTokens, it.Usage.LatencyMs, it.At,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadRun reads and decodes one run document.
func (s *SQLiteStore) LoadRun(ctx context.Context, id string) (*loom.State, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM runs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return loom.Deserialize([]byte(doc))
}

// ListRuns returns all runs, most recently updated first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, updated_at FROM runs ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []RunInfo
	for rows.Next() {
		var info RunInfo
		var status string
		if err := rows.Scan(&info.ID, &status, &info.UpdatedAt); err != nil {
			return nil, err
		}
		info.Status = loom.Status(status)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DeleteRun removes a run and its interaction rows.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE run_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
