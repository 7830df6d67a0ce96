package db

import (
	"os"
	"path/filepath"
	"testing"
)

// TestStore opens a migrated SQLite store in a per-test temporary directory.
func TestStore(t testing.TB) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sha2file.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// TestPostgresStore opens DATABASE_URL, migrates, and truncates the tables so
// each test starts clean. Skips the test when DATABASE_URL is unset.
// Run with -p 1 to avoid cross-package truncate deadlocks.
func TestPostgresStore(t testing.TB) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := OpenPostgres(url)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := s.db.Exec("TRUNCATE TABLE records, runs RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}
