package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"mcprune.dev/internal/prune"
)

// DB keeps one row per prune run and one row per region file the run
// touched or failed on.
type DB struct {
	db   *sql.DB
	once sync.Once
}

type Run struct {
	ID             string
	World          string
	Dimension      string
	Threshold      uint64
	Buffer         float64
	DryRun         bool
	Started        time.Time
	Finished       time.Time
	Files          int
	ChunksIndexed  int
	DecodeFailures int
	Unreadable     int
	Boundary       int
	Kept           int
	Pruned         int
	Rewritten      int
	Failed         int
	BytesBefore    int64
	BytesAfter     int64
}

type File struct {
	RunID      string
	Path       string
	Chunks     int
	Pruned     int
	Rewritten  bool
	SizeBefore int64
	SizeAfter  int64
	Error      string
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			world TEXT NOT NULL,
			dimension TEXT NOT NULL,
			threshold INTEGER NOT NULL,
			buffer REAL NOT NULL,
			dry_run INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			files INTEGER NOT NULL,
			chunks_indexed INTEGER NOT NULL,
			decode_failures INTEGER NOT NULL,
			unreadable INTEGER NOT NULL,
			boundary INTEGER NOT NULL,
			kept INTEGER NOT NULL,
			pruned INTEGER NOT NULL,
			rewritten INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			bytes_before INTEGER NOT NULL,
			bytes_after INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS run_files (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			pruned INTEGER NOT NULL,
			rewritten INTEGER NOT NULL,
			size_before INTEGER NOT NULL,
			size_after INTEGER NOT NULL,
			error TEXT,
			PRIMARY KEY (run_id, path)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) Close() error {
	var err error
	d.once.Do(func() { err = d.db.Close() })
	return err
}

// FromReport flattens a run report. Only files that were rewritten, pruned
// in a dry run, or failed get a row.
func FromReport(rep *prune.Report) (Run, []File) {
	r := Run{
		ID:             rep.RunID,
		World:          rep.World,
		Dimension:      string(rep.Dimension),
		Threshold:      rep.Threshold,
		Buffer:         rep.BufferRadius,
		DryRun:         rep.DryRun,
		Started:        rep.Started,
		Finished:       rep.Finished,
		Files:          rep.Files,
		ChunksIndexed:  rep.ChunksIndexed,
		DecodeFailures: rep.DecodeFailures,
		Unreadable:     len(rep.Unreadable),
		Boundary:       rep.Boundary,
		Kept:           rep.Kept,
		Pruned:         rep.Pruned,
		Rewritten:      rep.Rewritten,
	}
	var files []File
	for _, o := range rep.PerFile {
		r.BytesBefore += o.SizeBefore
		r.BytesAfter += o.SizeAfter
		if o.Err != nil {
			r.Failed++
		}
		if o.Err == nil && o.Pruned == 0 {
			continue
		}
		f := File{
			RunID:      rep.RunID,
			Path:       o.Path,
			Chunks:     o.Chunks,
			Pruned:     o.Pruned,
			Rewritten:  o.Rewritten,
			SizeBefore: o.SizeBefore,
			SizeAfter:  o.SizeAfter,
		}
		if o.Err != nil {
			f.Error = o.Err.Error()
		}
		files = append(files, f)
	}
	return r, files
}

// RecordRun stores a run and its file rows in one transaction.
func (d *DB) RecordRun(ctx context.Context, r Run, files []File) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs(
			id, world, dimension, threshold, buffer, dry_run, started_at, finished_at,
			files, chunks_indexed, decode_failures, unreadable, boundary, kept, pruned,
			rewritten, failed, bytes_before, bytes_after)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.World, r.Dimension, int64(r.Threshold), r.Buffer, boolInt(r.DryRun),
		r.Started.UTC().Format(time.RFC3339Nano), r.Finished.UTC().Format(time.RFC3339Nano),
		r.Files, r.ChunksIndexed, r.DecodeFailures, r.Unreadable, r.Boundary, r.Kept, r.Pruned,
		r.Rewritten, r.Failed, r.BytesBefore, r.BytesAfter)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_files(
			run_id, path, chunks, pruned, rewritten, size_before, size_after, error)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, f := range files {
		var errText sql.NullString
		if f.Error != "" {
			errText = sql.NullString{String: f.Error, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.ID, f.Path, f.Chunks, f.Pruned, boolInt(f.Rewritten),
			f.SizeBefore, f.SizeAfter, errText); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

// Runs returns the most recent runs first. limit <= 0 returns all of them.
func (d *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `SELECT
			id, world, dimension, threshold, buffer, dry_run, started_at, finished_at,
			files, chunks_indexed, decode_failures, unreadable, boundary, kept, pruned,
			rewritten, failed, bytes_before, bytes_after
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			threshold, dryRun int64
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.World, &r.Dimension, &threshold, &r.Buffer, &dryRun,
			&started, &finished, &r.Files, &r.ChunksIndexed, &r.DecodeFailures, &r.Unreadable,
			&r.Boundary, &r.Kept, &r.Pruned, &r.Rewritten, &r.Failed, &r.BytesBefore, &r.BytesAfter); err != nil {
			return nil, err
		}
		r.Threshold = uint64(threshold)
		r.DryRun = dryRun != 0
		r.Started, _ = time.Parse(time.RFC3339Nano, started)
		r.Finished, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) Files(ctx context.Context, runID string) ([]File, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT path, chunks, pruned, rewritten, size_before, size_after, error
		FROM run_files WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var (
			f         = File{RunID: runID}
			rewritten int64
			errText   sql.NullString
		)
		if err := rows.Scan(&f.Path, &f.Chunks, &f.Pruned, &rewritten, &f.SizeBefore, &f.SizeAfter, &errText); err != nil {
			return nil, err
		}
		f.Rewritten = rewritten != 0
		f.Error = errText.String
		out = append(out, f)
	}
	return out, rows.Err()
}

var ErrNoRuns = errors.New("no runs recorded")

// Last returns the most recent run.
func (d *DB) Last(ctx context.Context) (Run, error) {
	runs, err := d.Runs(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}
	return runs[0], nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
