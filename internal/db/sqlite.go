// Package db persists finished matches and lag history in SQLite.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// pragmas run on every open. Failures are logged, not fatal.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=2000",
}

// sqliteDB is a single-connection SQLite handle. Writes are serialized;
// readers must close their rows before the next statement runs.
type sqliteDB struct {
	mu   sync.Mutex
	conn *sql.DB
}

// openSQLite opens dbPath, creating its directory, and brings the schema up
// to date. steps[i] moves the schema from version i to i+1; the current
// version is kept in PRAGMA user_version.
func openSQLite(dbPath string, steps []string) (*sqliteDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			log.Warn().Err(err).Str("pragma", p).Msg("pragma failed")
		}
	}

	d := &sqliteDB{conn: conn}
	from, err := d.migrate(steps)
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("path", dbPath).Int("schema_from", from).Int("schema", len(steps)).Msg("database opened")
	return d, nil
}

// version reads the schema version.
func (d *sqliteDB) version() (int, error) {
	var v int
	if err := d.conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrate applies the steps past the stored version, one transaction each.
// It returns the version found on disk.
func (d *sqliteDB) migrate(steps []string) (int, error) {
	from, err := d.version()
	if err != nil {
		return 0, err
	}
	if from > len(steps) {
		return from, fmt.Errorf("database schema version %d is newer than this build (%d)", from, len(steps))
	}

	for v := from; v < len(steps); v++ {
		err := d.tx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(steps[v]); err != nil {
				return err
			}
			// PRAGMA does not take bound parameters.
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1))
			return err
		})
		if err != nil {
			return from, fmt.Errorf("schema step %d: %w", v+1, err)
		}
	}
	return from, nil
}

func (d *sqliteDB) close() error {
	return d.conn.Close()
}

func (d *sqliteDB) exec(query string, args ...any) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Exec(query, args...)
}

func (d *sqliteDB) query(query string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(query, args...)
}

func (d *sqliteDB) queryRow(query string, args ...any) *sql.Row {
	return d.conn.QueryRow(query, args...)
}

// tx runs fn in a transaction, rolling back if it fails.
func (d *sqliteDB) tx(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
