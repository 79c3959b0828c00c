// Package storage persists todo lists and the approval audit trail in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"conduit/internal/config"
	"conduit/internal/storage/migrations"
	"conduit/pkg/logger"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("storage: not found")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var filePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// DB is the SQLite handle shared by the todo store, the approval gate and
// the cron scheduler.
type DB struct {
	*sql.DB
	path string
}

// Open opens the database at path, creating its directory, and brings the
// schema up to date. MemoryPath gives a database that lives as long as the
// returned handle.
func Open(path string) (*DB, error) {
	dsn := path
	if path != MemoryPath {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, fmt.Errorf("expand path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = expanded
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := filePragmas
	if path == MemoryPath {
		// one connection, or each pooled conn sees its own empty database
		sqlDB.SetMaxOpenConns(1)
		pragmas = pragmas[1:]
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrations.Run(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db := &DB{DB: sqlDB, path: dsn}
	if v, err := db.SchemaVersion(); err == nil {
		log := logger.Component("storage")
		log.Debug().Str("path", dsn).Int("schema", v).Msg("database ready")
	}
	return db, nil
}

// Path returns the database file path, or MemoryPath.
func (db *DB) Path() string {
	return db.path
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion() (int, error) {
	return migrations.Version(db.DB)
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
