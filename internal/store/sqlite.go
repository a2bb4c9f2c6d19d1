package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/example/kosync/internal/schema"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore persists the progress table in an embedded SQLite database
// with WAL mode for concurrent access. It is an alternative backend for
// installations that prefer a database over the JSON table.
type SQLiteStore struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// OpenSQLite creates a database-backed store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads
// and is created along with its schema if missing. The caller MUST call
// Close() when done.
//
// If logger is nil, a default logger writing to stderr is used.
func OpenSQLite(path string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &SQLiteStore{conn: conn, path: path, logger: logger}

	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := st.initSchema(); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// initSchema creates the progress table if it doesn't exist. Idempotent.
func (st *SQLiteStore) initSchema() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS progress (
		document TEXT PRIMARY KEY,
		progress TEXT NOT NULL,
		percentage REAL NOT NULL,
		device_id TEXT NOT NULL,
		device TEXT NOT NULL,
		timestamp INTEGER NOT NULL DEFAULT 0,
		local_position INTEGER NOT NULL DEFAULT 0,
		total_length INTEGER NOT NULL DEFAULT 0,
		last_pushed_at TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := st.conn.Exec(ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Get implements Store.Get. Query failures are logged and reported as a
// cache miss so callers degrade the same way they do for an absent entry.
func (st *SQLiteStore) Get(documentID string) (*schema.Record, bool) {
	row := st.conn.QueryRow(`
		SELECT document, progress, percentage, device_id, device,
		       timestamp, local_position, total_length, last_pushed_at
		FROM progress WHERE document = ?`, documentID)

	var rec schema.Record
	var pushedAt string
	err := row.Scan(&rec.Document, &rec.Progress, &rec.Percentage,
		&rec.DeviceID, &rec.Device, &rec.Timestamp,
		&rec.LocalPosition, &rec.TotalLength, &pushedAt)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		st.logger.Printf("WARNING: progress lookup failed for %s: %v", documentID, err)
		return nil, false
	}

	if pushedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, pushedAt); err == nil {
			rec.LastPushedAt = ts
		}
	}
	return &rec, true
}

// Upsert implements Store.Upsert.
func (st *SQLiteStore) Upsert(rec *schema.Record) error {
	var pushedAt string
	if !rec.LastPushedAt.IsZero() {
		pushedAt = rec.LastPushedAt.Format(time.RFC3339Nano)
	}

	_, err := st.conn.Exec(`
		INSERT INTO progress (document, progress, percentage, device_id, device,
		                      timestamp, local_position, total_length, last_pushed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document) DO UPDATE SET
			progress = excluded.progress,
			percentage = excluded.percentage,
			device_id = excluded.device_id,
			device = excluded.device,
			timestamp = excluded.timestamp,
			local_position = excluded.local_position,
			total_length = excluded.total_length,
			last_pushed_at = excluded.last_pushed_at`,
		rec.Document, rec.Progress, rec.Percentage, rec.DeviceID, rec.Device,
		rec.Timestamp, rec.LocalPosition, rec.TotalLength, pushedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert progress for %s: %w", rec.Document, err)
	}
	return nil
}

// Close implements Store.Close. Checkpoints the WAL before closing.
func (st *SQLiteStore) Close() error {
	if st.conn == nil {
		return nil
	}
	if _, err := st.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		st.logger.Printf("WARNING: failed to checkpoint WAL: %v", err)
	}
	if err := st.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	st.conn = nil
	return nil
}
