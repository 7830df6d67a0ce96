package db

import (
	"context"
	"database/sql"
	"errors"
)

// Key identifies a file version for cache lookups.
type Key struct {
	Path      string
	Algorithm string
	Size      int64
	MTime     int64 // UnixNano; second precision misses same-second rewrites
	Inode     int64
	DeviceID  *int64
}

// CachedDigest returns the newest stored digest for the same path and
// algorithm whose size, mtime, inode and device still match (an unchanged
// file). Returns "" and nil when there is none.
func (s *Store) CachedDigest(ctx context.Context, k Key) (string, error) {
	q := `SELECT digest FROM records
		WHERE path = ? AND algorithm = ? AND size = ? AND mtime = ? AND inode = ? AND digest IS NOT NULL`
	args := []any{k.Path, k.Algorithm, k.Size, k.MTime, k.Inode}
	if k.DeviceID == nil {
		q += " AND device_id IS NULL"
	} else {
		q += " AND device_id = ?"
		args = append(args, *k.DeviceID)
	}
	q += " ORDER BY id DESC LIMIT 1"
	return s.digestOrEmpty(ctx, q, args...)
}

// DigestForInode returns the digest already computed in this run for a file
// with the same inode and device (a hardlink). Returns "" and nil when not
// found or when inode is unknown (0).
func (s *Store) DigestForInode(ctx context.Context, runID, algorithm string, inode int64, deviceID *int64) (string, error) {
	if inode == 0 || deviceID == nil {
		return "", nil
	}
	return s.digestOrEmpty(ctx,
		`SELECT digest FROM records
		 WHERE run_id = ? AND algorithm = ? AND inode = ? AND device_id = ? AND digest IS NOT NULL
		 LIMIT 1`,
		runID, algorithm, inode, *deviceID)
}

func (s *Store) digestOrEmpty(ctx context.Context, query string, args ...any) (string, error) {
	var out string
	err := RetryOnBusy(ctx, func() error {
		var d sql.NullString
		err := s.queryRow(ctx, query, args...).Scan(&d)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out = d.String
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
