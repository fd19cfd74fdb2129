// Package database opens the *sql.DB that both the catalog builder and the
// query executor run against.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverDuckDB   = "duckdb"
	DriverSQLite   = "sqlite3"
)

type DBConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	// ReadOnly opens file-backed DuckDB databases with access_mode=READ_ONLY.
	ReadOnly bool
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	switch driver {
	case DriverPostgres, DriverDuckDB, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	// duckdb and sqlite accept an empty DSN as an in-memory database.
	if cfg.DSN == "" && driver == DriverPostgres {
		return nil, fmt.Errorf("database dsn is required")
	}

	dsn := cfg.DSN
	if cfg.ReadOnly {
		dsn = ReadOnlyDSN(driver, dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	return db, nil
}

// SupportsReadOnlyTx reports whether the driver honours sql.TxOptions{ReadOnly: true}.
func SupportsReadOnlyTx(driver string) bool {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return true
	default:
		return false
	}
}

// ReadOnlyDSN returns a DSN that makes the engine itself refuse writes, where
// the driver has such an option. In-memory DuckDB cannot be opened read-only
// and is returned unchanged.
func ReadOnlyDSN(driver, dsn string) string {
	if driver != DriverDuckDB || IsInMemory(driver, dsn) {
		return dsn
	}
	if strings.Contains(strings.ToLower(dsn), "access_mode=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "access_mode=READ_ONLY"
}

func IsInMemory(driver, dsn string) bool {
	path, _, _ := strings.Cut(dsn, "?")
	path = strings.TrimSpace(path)
	switch driver {
	case DriverDuckDB:
		return path == "" || strings.HasPrefix(path, ":memory:")
	case DriverSQLite:
		return path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory")
	default:
		return false
	}
}
