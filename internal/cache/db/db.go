// Package db provides the SQLite-backed record cache for rs.
//
// This package implements the Entity Store: a single records table holding
// the restaurant hierarchy, the watermark query used by sync, the
// children check used by navigation, and live parent-id queries that are
// re-pushed to subscribers after every write.
//
// Architecture:
//   - Database file: ~/.local/share/rs/cache.db by default
//   - WAL mode: concurrent readers during writes
//   - Schema: records, sync_log tables
//   - Writes are serialised by a mutex so the exists-then-write upsert is
//     atomic per record and live snapshots follow write order
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/falcon/restaurants/internal/cache/live"
)

// DB wraps the SQLite connection with the record cache operations.
type DB struct {
	conn   *sql.DB
	path   string
	logger *log.Logger

	// writeMu serialises every write to the records table together with
	// the live notification that follows it. It also guards closed.
	writeMu sync.Mutex
	closed  bool
	live    *live.Registry
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode. If the file doesn't exist it is
// created; call InitSchema before first use.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	store, err := db.Open("cache.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	return OpenWithLogger(path, nil)
}

// OpenWithLogger is Open with a custom logger.
// If logger is nil, a default logger writing to stderr is used.
func OpenWithLogger(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	filePath := strings.TrimPrefix(path, "file:")

	// Ensure parent directory exists
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   filePath,
		logger: logger,
	}
	db.live = live.NewRegistry(db.ListByParentIDContext, logger)

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close ends all live queries and closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
//
// Close waits for an in-flight write to finish. It is safe to call more
// than once; writes after Close fail with ErrClosed.
func (db *DB) Close() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	db.live.Close()

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		active TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_parent ON records(parent_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated_at);

	-- One row per sync cycle, newest last
	CREATE TABLE IF NOT EXISTS sync_log (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		watermark TEXT NOT NULL,
		fetched INTEGER NOT NULL DEFAULT 0,
		applied INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_log_finished ON sync_log(finished_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
