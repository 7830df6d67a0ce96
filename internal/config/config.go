package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/eargollo/sha2file/pkg/digest"
)

// Env names for configuration. Empty or unset means use default.
const (
	EnvDataDir      = "SHA2FILE_DATA_DIR"
	EnvPort         = "SHA2FILE_PORT"
	EnvRoot         = "SHA2FILE_ROOT"
	EnvAlgorithm    = "SHA2FILE_ALGORITHM"
	EnvWorkers      = "SHA2FILE_WORKERS"
	EnvMaxPerSecond = "SHA2FILE_MAX_PER_SECOND"
	EnvDatabaseURL  = "DATABASE_URL" // PostgreSQL connection URL; SQLite in the data dir when unset
)

// DBFileName is the SQLite file created inside the data dir.
const DBFileName = "sha2file.db"

// Default values when env is unset.
const (
	DefaultDataDir   = "./data"
	DefaultPort      = 8080
	DefaultRoot      = "."
	DefaultAlgorithm = digest.SHA256
	DefaultWorkers   = 4
)

// Config holds application configuration loaded from the environment.
type Config struct {
	dataDir      string
	port         int
	root         string
	algorithm    digest.Variant
	workers      int
	maxPerSecond int
	databaseURL  string
}

// LoadDotEnv merges variables from path (usually ".env") into the environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads configuration from the environment. Returns an error if a
// numeric variable is not a number or out of range, or if the algorithm is
// not a SHA-2 variant. Port 0 means "let the kernel choose".
func Load() (*Config, error) {
	c := &Config{
		dataDir:     getenvDefault(EnvDataDir, DefaultDataDir),
		port:        DefaultPort,
		root:        getenvDefault(EnvRoot, DefaultRoot),
		algorithm:   DefaultAlgorithm,
		workers:     DefaultWorkers,
		databaseURL: os.Getenv(EnvDatabaseURL),
	}

	if s := os.Getenv(EnvAlgorithm); s != "" {
		v, err := digest.ParseVariant(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvAlgorithm, err)
		}
		c.algorithm = v
	}

	var err error
	if c.port, err = intFromEnv(EnvPort, DefaultPort, 0, 65535); err != nil {
		return nil, err
	}
	if c.workers, err = intFromEnv(EnvWorkers, DefaultWorkers, 1, 1024); err != nil {
		return nil, err
	}
	if c.maxPerSecond, err = intFromEnv(EnvMaxPerSecond, 0, 0, 1_000_000); err != nil {
		return nil, err
	}
	return c, nil
}

func intFromEnv(name string, def, lo, hi int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return n, nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// DataDir returns the directory holding the SQLite history database.
func (c *Config) DataDir() string { return c.dataDir }

// Port returns the HTTP server port.
func (c *Config) Port() int { return c.port }

// Root returns the directory the HTTP API may read from.
func (c *Config) Root() string { return c.root }

// Algorithm returns the default SHA-2 variant.
func (c *Config) Algorithm() digest.Variant { return c.algorithm }

// Workers returns the batch worker count.
func (c *Config) Workers() int { return c.workers }

// MaxPerSecond returns the batch throttle; 0 means unlimited.
func (c *Config) MaxPerSecond() int { return c.maxPerSecond }

// DatabaseURL returns the PostgreSQL URL, or "" to use SQLite.
func (c *Config) DatabaseURL() string { return c.databaseURL }

// DBPath is the SQLite database file inside DataDir.
func (c *Config) DBPath() string { return filepath.Join(c.dataDir, DBFileName) }
