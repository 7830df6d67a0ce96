package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run is one batch invocation: the roots it was given and, once completed, its counters.
type Run struct {
	ID          string
	Algorithm   string
	Roots       []string
	CreatedAt   time.Time
	CompletedAt *time.Time
	Stats       RunStats
}

// RunStats are the counters stored when a run completes.
type RunStats struct {
	Files  int64
	Bytes  int64
	Reused int64
	Errors int64
}

// CreateRun inserts a new run with a random id and created_at set to now.
// completed_at is left null until CompleteRun.
func (s *Store) CreateRun(ctx context.Context, algorithm string, roots []string) (*Run, error) {
	now := dbNow()
	run := &Run{
		ID:        uuid.NewString(),
		Algorithm: algorithm,
		Roots:     roots,
		CreatedAt: now,
	}
	err := RetryOnBusy(ctx, func() error {
		_, err := s.exec(ctx,
			"INSERT INTO runs (id, algorithm, roots, created_at) VALUES (?, ?, ?, ?)",
			run.ID, algorithm, strings.Join(roots, "\n"), now.Format(timeLayout))
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun sets completed_at and the counters.
func (s *Store) CompleteRun(ctx context.Context, id string, stats RunStats) error {
	completedAt := dbNow().Format(timeLayout)
	return RetryOnBusy(ctx, func() error {
		_, err := s.exec(ctx,
			`UPDATE runs SET completed_at = ?, file_count = ?, byte_count = ?, reused_count = ?, error_count = ?
			 WHERE id = ?`,
			completedAt, stats.Files, stats.Bytes, stats.Reused, stats.Errors, id)
		return err
	})
}

const runColumns = "id, algorithm, roots, created_at, completed_at, file_count, byte_count, reused_count, error_count"

// GetRun returns the run with the given id, or sql.ErrNoRows if not found.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.queryRow(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	return scanRun(row)
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := "SELECT " + runColumns + " FROM runs ORDER BY created_at DESC, id DESC"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var roots string
	var createdAt dbTime
	var completedAt dbTime
	var files, bytes, reused, errs sql.NullInt64
	if err := row.Scan(&r.ID, &r.Algorithm, &roots, &createdAt, &completedAt, &files, &bytes, &reused, &errs); err != nil {
		return nil, err
	}
	if roots != "" {
		r.Roots = strings.Split(roots, "\n")
	}
	r.CreatedAt = createdAt.Time
	r.CompletedAt = completedAt.Ptr()
	r.Stats = RunStats{Files: files.Int64, Bytes: bytes.Int64, Reused: reused.Int64, Errors: errs.Int64}
	return &r, nil
}

// DeleteRun removes a run and, by cascade, its records.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	return RetryOnBusy(ctx, func() error {
		_, err := s.exec(ctx, "DELETE FROM runs WHERE id = ?", id)
		return err
	})
}
