// Package ledger records episode outcomes and step records in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	instruction TEXT NOT NULL,
	category    TEXT NOT NULL,
	output_dir  TEXT NOT NULL,
	steps       INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_episodes_run ON episodes(run_id);

CREATE TABLE IF NOT EXISTS steps (
	episode_id TEXT NOT NULL REFERENCES episodes(id),
	step       INTEGER NOT NULL,
	type       TEXT NOT NULL,
	record     TEXT NOT NULL,
	dispatch_error TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (episode_id, step)
);
`

// Episode is one row of the episodes table.
type Episode struct {
	ID          string
	RunID       string
	Instruction string
	Category    string
	OutputDir   string
	Steps       int
	Reason      string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Step is one persisted action record.
type Step struct {
	EpisodeID     string
	Step          int
	Type          string
	Record        string
	DispatchError string
}

// Ledger is a handle to the run ledger database.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path with WAL journaling and a
// 5-second busy timeout.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, path, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginEpisode inserts a started episode.
func (l *Ledger) BeginEpisode(ctx context.Context, ep Episode) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO episodes (id, run_id, instruction, category, output_dir, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.RunID, ep.Instruction, ep.Category, ep.OutputDir, ep.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert episode %s: %w", ep.ID, err)
	}
	return nil
}

// RecordStep stores one action record.
func (l *Ledger) RecordStep(ctx context.Context, s Step) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO steps (episode_id, step, type, record, dispatch_error) VALUES (?, ?, ?, ?, ?)`,
		s.EpisodeID, s.Step, s.Type, s.Record, s.DispatchError)
	if err != nil {
		return fmt.Errorf("insert step %d of %s: %w", s.Step, s.EpisodeID, err)
	}
	return nil
}

// FinishEpisode stores the outcome of an episode.
func (l *Ledger) FinishEpisode(ctx context.Context, id string, steps int, reason, errMsg string, finished time.Time) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE episodes SET steps = ?, reason = ?, error = ?, finished_at = ? WHERE id = ?`,
		steps, reason, errMsg, finished.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update episode %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update episode %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// Episode loads one episode by ID.
func (l *Ledger) Episode(ctx context.Context, id string) (*Episode, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, run_id, instruction, category, output_dir, steps, reason, error, started_at, finished_at FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("episode %s: %w", id, err)
	}
	return ep, err
}

// RunEpisodes lists the episodes of a run in start order.
func (l *Ledger) RunEpisodes(ctx context.Context, runID string) ([]Episode, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, instruction, category, output_dir, steps, reason, error, started_at, finished_at
		 FROM episodes WHERE run_id = ? ORDER BY started_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

// Steps lists the step records of an episode in order.
func (l *Ledger) Steps(ctx context.Context, episodeID string) ([]Step, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT episode_id, step, type, record, dispatch_error FROM steps WHERE episode_id = ? ORDER BY step`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("query steps of %s: %w", episodeID, err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.EpisodeID, &s.Step, &s.Type, &s.Record, &s.DispatchError); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(s scanner) (*Episode, error) {
	var ep Episode
	var started, finished int64
	if err := s.Scan(&ep.ID, &ep.RunID, &ep.Instruction, &ep.Category, &ep.OutputDir,
		&ep.Steps, &ep.Reason, &ep.Error, &started, &finished); err != nil {
		return nil, err
	}
	ep.StartedAt = time.UnixMilli(started)
	if finished > 0 {
		ep.FinishedAt = time.UnixMilli(finished)
	}
	return &ep, nil
}
