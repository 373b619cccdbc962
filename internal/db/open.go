package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Target is an open connection to the database whose history tables are cleaned.
type Target struct {
	DB      *sql.DB
	Dialect Dialect
}

// Close closes the underlying pool.
func (t *Target) Close() error { return t.DB.Close() }

// NormalizeDriver maps driver aliases to registered driver names. An empty
// driver is inferred from the DSN: postgres URLs, *.duckdb files, else SQLite.
func NormalizeDriver(driver, dsn string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "":
		lower := strings.ToLower(dsn)
		switch {
		case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
			return DriverPostgres, nil
		case strings.HasSuffix(lower, ".duckdb"), strings.HasPrefix(lower, "duckdb:"):
			return DriverDuckDB, nil
		default:
			return DriverSQLite, nil
		}
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	case "duckdb":
		return DriverDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q: use sqlite3, postgres or duckdb", driver)
	}
}

// OpenTarget opens the application database. SQLite targets use the hardened
// single-writer pool; other drivers get a small pool. maxOpen <= 0 uses 4.
//
// The duckdb driver must be registered by the binary (blank import).
func OpenTarget(ctx context.Context, driver, dsn string, maxOpen int) (*Target, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	driver, err := NormalizeDriver(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		db, err := OpenSQLite(strings.TrimPrefix(dsn, "sqlite://"), "write", 0)
		if err != nil {
			return nil, err
		}
		return &Target{DB: db, Dialect: Dialect{Driver: driver}}, nil
	}

	if driver == DriverDuckDB {
		dsn = strings.TrimPrefix(dsn, "duckdb:")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return &Target{DB: db, Dialect: Dialect{Driver: driver}}, nil
}
