package db

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres opens a PostgreSQL database using the given URL (e.g. from DATABASE_URL).
// Caller must call Close() when done. Migrate should be called after open to create schema.
func OpenPostgres(url string) (*Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	// Allow concurrent readers and writers; no need for a separate read-only pool.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &Store{db: db, dialect: Postgres}, nil
}

var postgresDDL = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		algorithm TEXT NOT NULL,
		roots TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		file_count BIGINT,
		byte_count BIGINT,
		reused_count BIGINT,
		error_count BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS records (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		size BIGINT NOT NULL,
		mtime BIGINT NOT NULL,
		inode BIGINT NOT NULL,
		device_id BIGINT,
		digest TEXT,
		error TEXT,
		reused INTEGER NOT NULL DEFAULT 0,
		hashed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_records_run_digest ON records(run_id, digest)`,
	`CREATE INDEX IF NOT EXISTS idx_records_path_algorithm ON records(path, algorithm)`,
	`CREATE INDEX IF NOT EXISTS idx_records_run_inode ON records(run_id, inode, device_id)`,
}
