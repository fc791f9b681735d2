package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const (
	dirMode  = 0o750
	fileMode = 0o600

	openPingTimeout = 5 * time.Second
	connIdleTimeout = 30 * time.Minute
)

// Config maps the database section of config.yaml.
type Config struct {
	// Path is the SQLite file; its directory is created on Open.
	Path string

	// WALMode lets API reads run alongside audit inserts.
	WALMode bool

	// BusyTimeout is the lock wait in seconds.
	BusyTimeout int
}

// dsn builds a go-sqlite3 connection string for a file-backed database.
func (c Config) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(c.BusyTimeout*1000))
	q.Set("_foreign_keys", "on")
	if c.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + c.Path + "?" + q.Encode()
}

// DB is the SprayCell audit database.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the database in cfg and pings it.
//
// The pool holds a single connection: SQLite has one writer, and each
// connection to ":memory:" would see its own empty database.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("database: path is required")
	}

	dsn := MemoryPath
	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
			return nil, fmt.Errorf("database: creating directory: %w", err)
		}
		dsn = cfg.dsn()
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(connIdleTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	if cfg.Path != MemoryPath {
		//nolint:errcheck // the file appears on first write with some drivers
		os.Chmod(cfg.Path, fileMode)
	}
	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the pool. Safe on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("database: close: %w", err)
	}
	return nil
}

// Path returns the file path passed to Open.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs SELECT 1.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database: health check: %w", err)
	}
	return nil
}
