package cli

import (
	"fmt"
	"os"

	"github.com/eargollo/sha2file/internal/db"
)

// openStore opens the history database: PostgreSQL when DATABASE_URL is set,
// otherwise SQLite in the data dir. The schema is migrated before returning.
func (a *app) openStore() (*db.Store, error) {
	var (
		store *db.Store
		err   error
	)
	if url := a.cfg.DatabaseURL(); url != "" {
		store, err = db.OpenPostgres(url)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	} else {
		if err := os.MkdirAll(a.cfg.DataDir(), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %q: %w", a.cfg.DataDir(), err)
		}
		store, err = db.Open(a.cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("open db %q: %w", a.cfg.DBPath(), err)
		}
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.log.Debug("history store opened", "dialect", dialectName(store.Dialect()))
	return store, nil
}

// openReadStore opens a read-only pool next to a SQLite store so API reads
// don't queue behind writers. Returns nil for PostgreSQL.
func (a *app) openReadStore(store *db.Store) (*db.Store, error) {
	if store.Dialect() != db.SQLite {
		return nil, nil
	}
	return db.OpenReadOnly(a.cfg.DBPath())
}

func dialectName(d db.Dialect) string {
	if d == db.Postgres {
		return "postgres"
	}
	return "sqlite"
}
