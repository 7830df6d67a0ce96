package db

import "strings"

var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		algorithm TEXT NOT NULL,
		roots TEXT NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT,
		file_count INTEGER,
		byte_count INTEGER,
		reused_count INTEGER,
		error_count INTEGER
	)`,
	"CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)",
	`CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime INTEGER NOT NULL,
		inode INTEGER NOT NULL,
		device_id INTEGER,
		digest TEXT,
		error TEXT,
		hashed_at TEXT NOT NULL
	)`,
	"CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id)",
	// Duplicate groups read (run_id, digest) only.
	"CREATE INDEX IF NOT EXISTS idx_records_run_digest ON records(run_id, digest)",
	// CachedDigest: newest record for the same path and algorithm.
	"CREATE INDEX IF NOT EXISTS idx_records_path_algorithm ON records(path, algorithm)",
	// DigestForInode: hardlink reuse within a run.
	"CREATE INDEX IF NOT EXISTS idx_records_run_inode ON records(run_id, inode, device_id)",
}

// Migrate creates the runs and records tables if they do not exist.
// Idempotent; safe to call on every startup.
func (s *Store) Migrate() error {
	if s.dialect == Postgres {
		for _, q := range postgresDDL {
			if _, err := s.db.Exec(q); err != nil {
				return err
			}
		}
		return nil
	}

	for _, q := range sqliteDDL {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	// Added after the first schema; idempotent: ignore duplicate column.
	for _, q := range []string{
		"ALTER TABLE records ADD COLUMN reused INTEGER NOT NULL DEFAULT 0",
	} {
		if _, err := s.db.Exec(q); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return err
		}
	}
	return nil
}
