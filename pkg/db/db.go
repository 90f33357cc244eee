package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// sqliteTime is the layout matching DEFAULT CURRENT_TIMESTAMP columns.
const sqliteTime = "2006-01-02 15:04:05"

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens (or creates) the database file and brings the schema up to date.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// WAL for concurrent readers, single write connection to dodge
	// SQLITE_BUSY, generous busy timeout for the rest.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	conn.SetMaxOpenConns(1)

	d := &DB{conn}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// PruneCache removes cache entries older than the specified duration.
func (d *DB) PruneCache(olderThan time.Duration) error {
	return d.pruneTable("cache", olderThan)
}

// PruneScripts removes archived scripts older than the specified duration.
func (d *DB) PruneScripts(olderThan time.Duration) error {
	return d.pruneTable("scripts", olderThan)
}

func (d *DB) pruneTable(table string, olderThan time.Duration) error {
	deadline := time.Now().Add(-olderThan).UTC().Format(sqliteTime)
	_, err := d.Exec("DELETE FROM "+table+" WHERE created_at < ?", deadline)
	return err
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scripts (
		uuid TEXT PRIMARY KEY,
		template TEXT,
		title TEXT,
		text TEXT,
		line_count INTEGER,
		score INTEGER,
		passed BOOLEAN DEFAULT 0,
		defects TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS summaries (
		uuid TEXT PRIMARY KEY,
		script_uuid TEXT,
		kind TEXT,
		text TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS persistent_state (
		key TEXT PRIMARY KEY,
		value TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		value BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
}

func (d *DB) migrate() error {
	for _, q := range schema {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	// Archives written before quality verdicts were recorded lack the
	// passed column.
	var colCount int
	err := d.QueryRow("SELECT count(*) FROM pragma_table_info('scripts') WHERE name='passed'").Scan(&colCount)
	if err == nil && colCount == 0 {
		if _, err := d.Exec("ALTER TABLE scripts ADD COLUMN passed BOOLEAN DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add passed column: %w", err)
		}
	}

	return nil
}
