package db

import (
	"context"
	"database/sql"
	"time"
)

// Record is the outcome of hashing one file in a run. Exactly one of Digest
// and Error is set.
type Record struct {
	ID        int64
	RunID     string
	Path      string
	Algorithm string
	Size      int64
	MTime     int64
	Inode     int64
	DeviceID  *int64
	Digest    string
	Error     string
	Reused    bool
	HashedAt  time.Time
}

// InsertRecord stores r. HashedAt defaults to now.
// Retries on SQLITE_BUSY when several workers write at once.
func (s *Store) InsertRecord(ctx context.Context, r Record) error {
	if r.HashedAt.IsZero() {
		r.HashedAt = time.Now()
	}
	var dev any
	if r.DeviceID != nil {
		dev = *r.DeviceID
	}
	reused := 0
	if r.Reused {
		reused = 1
	}
	return RetryOnBusy(ctx, func() error {
		_, err := s.exec(ctx,
			`INSERT INTO records (run_id, path, algorithm, size, mtime, inode, device_id, digest, error, reused, hashed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Path, r.Algorithm, r.Size, r.MTime, r.Inode, dev,
			nullString(r.Digest), nullString(r.Error), reused, r.HashedAt.UTC().Format(timeLayout))
		return err
	})
}

// RecordsForRun returns the run's records ordered by path.
func (s *Store) RecordsForRun(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.query(ctx,
		`SELECT id, run_id, path, algorithm, size, mtime, inode, device_id, digest, error, reused, hashed_at
		 FROM records WHERE run_id = ? ORDER BY path, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var dev sql.NullInt64
		var digest, errText sql.NullString
		var reused int64
		var hashedAt dbTime
		if err := rows.Scan(&r.ID, &r.RunID, &r.Path, &r.Algorithm, &r.Size, &r.MTime, &r.Inode,
			&dev, &digest, &errText, &reused, &hashedAt); err != nil {
			return nil, err
		}
		if dev.Valid {
			v := dev.Int64
			r.DeviceID = &v
		}
		r.Digest = digest.String
		r.Error = errText.String
		r.Reused = reused != 0
		r.HashedAt = hashedAt.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
