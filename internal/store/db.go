// Package store implements the claim store: the relational and vector dual
// backend behind every API operation, including duplicate detection and
// namespace-scoped queries. It wraps a single-writer SQLite connection (WAL
// discipline, one open connection, guarded by a RWMutex) and one bound
// vector.Index.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jdray42/boswell/internal/logging"
	_ "github.com/mattn/go-sqlite3"
)

var log = logging.GetLogger("store")

// db wraps the single-writer SQLite connection pool.
type db struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// openDB opens (creating if absent) a WAL-mode SQLite database at path.
func openDB(path string) (*db, error) {
	log.Info("opening claim store", "path", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite has exactly one writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &db{conn: conn, path: path}, nil
}

func (d *db) Exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Exec(query, args...)
}

func (d *db) Query(query string, args ...interface{}) (*sql.Rows, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn.Query(query, args...)
}

func (d *db) QueryRow(query string, args ...interface{}) *sql.Row {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn.QueryRow(query, args...)
}

// Begin starts a transaction. Callers hold the write lock for its duration.
func (d *db) Begin() (*sql.Tx, func(), error) {
	d.mu.Lock()
	tx, err := d.conn.Begin()
	if err != nil {
		d.mu.Unlock()
		return nil, nil, err
	}
	return tx, d.mu.Unlock, nil
}

func (d *db) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Close()
}

func (d *db) Vacuum() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.conn.Exec("VACUUM")
	return err
}

func (d *db) Checkpoint() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (d *db) SchemaVersion() (int, error) {
	var version int
	err := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_info").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

// initSchema creates every table if absent and records SchemaVersion.
func (d *db) initSchema() error {
	log.Info("initializing claim store schema", "version", SchemaVersion)

	d.mu.Lock()
	defer d.mu.Unlock()

	var tableName string
	err := d.conn.QueryRow(`
		SELECT name FROM sqlite_master WHERE type='table' AND name='claims' LIMIT 1
	`).Scan(&tableName)
	if err == nil && tableName != "" {
		log.Debug("schema already initialized")
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(coreSchema); err != nil {
		return fmt.Errorf("create core schema: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO schema_info (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`,
		SchemaVersion,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	log.Info("claim store schema initialized")
	return nil
}
