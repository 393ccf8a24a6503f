// Package store owns the datastore side of hybrid document storage.
//
// Document content and metadata live in an embedded SQLite database opened
// in WAL mode. The store is the only component that mutates document rows;
// every write happens inside a transaction, and every content commit also
// updates the doc_fts full-text table in the same transaction so the search
// index is never staler than the last write.
//
// Architecture:
//   - document_references: one row per document (content, hash, mode, status)
//   - sync_conflicts: permanent audit trail of detected conflicts
//   - migration_records: immutable per-document migration outcomes
//   - doc_fts: FTS5 index over title+content, keyed by document id
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// FileReader is the slice of the file mirror the store needs: just enough
// to tell whether a freshly written DB content already matches the file on
// disk. The full mirror type satisfies it.
type FileReader interface {
	Read(rel string) (content string, mtime time.Time, size int64, err error)
	Exists(rel string) bool
}

// EntityResolver checks that an owning entity exists. The entity registry
// is an external collaborator; a nil resolver skips the check.
type EntityResolver interface {
	EntityExists(ctx context.Context, entityType, entityID string) (bool, error)
}

// Store wraps the SQLite connection with document storage functionality.
type Store struct {
	conn     *sql.DB
	path     string
	mirror   FileReader
	resolver EntityResolver
	now      func() time.Time
}

// Open creates a store backed by the database at path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created; call InitSchema before first use.
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	// WAL mode for concurrent reads during writes.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// AttachMirror gives the store read access to the file mirror. Only
// UpdateContent uses it, to detect writes that re-converge with the file.
func (s *Store) AttachMirror(r FileReader) {
	s.mirror = r
}

// SetEntityResolver installs the entity existence check applied at
// document creation. Nil disables the check.
func (s *Store) SetEntityResolver(r EntityResolver) {
	s.resolver = r
}

// SetClock overrides the store's time source. Tests use this to make
// timestamp-derived state deterministic.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RawDB returns the underlying sql.DB connection for read-only consumers
// such as the search index.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the document storage schema if it doesn't exist.
// Idempotent, safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS document_references (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		file_path TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		document_type TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array, ordered, unique
		metadata TEXT NOT NULL DEFAULT '{}',  -- JSON object
		content TEXT,
		content_hash TEXT,
		content_size_bytes INTEGER NOT NULL DEFAULT 0,
		storage_mode TEXT NOT NULL DEFAULT 'HYBRID',
		sync_status TEXT NOT NULL DEFAULT 'DB_AHEAD',
		content_updated_at TEXT,
		last_synced_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_reference_id INTEGER NOT NULL,
		detected_at TEXT NOT NULL,
		db_hash TEXT NOT NULL,
		file_hash TEXT NOT NULL,
		db_modified_at TEXT,
		file_modified_at TEXT,
		strategy_applied TEXT NOT NULL,
		resolved_at TEXT,
		resolution TEXT,
		FOREIGN KEY (document_reference_id) REFERENCES document_references(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS migration_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		document_reference_id INTEGER NOT NULL,
		source_path TEXT NOT NULL,
		hash_before TEXT,
		hash_after TEXT,
		status TEXT NOT NULL,  -- migrated, skipped, failed
		reason TEXT NOT NULL DEFAULT '',
		content_bytes INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_docs_entity ON document_references(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_docs_category ON document_references(category);
	CREATE INDEX IF NOT EXISTS idx_docs_sync_status ON document_references(sync_status);
	CREATE INDEX IF NOT EXISTS idx_docs_storage_mode ON document_references(storage_mode);
	CREATE INDEX IF NOT EXISTS idx_conflicts_doc ON sync_conflicts(document_reference_id);
	CREATE INDEX IF NOT EXISTS idx_migrations_run ON migration_records(run_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS doc_fts USING fts5(
		title,
		content,
		doc_id UNINDEXED,
		tokenize='unicode61'
	);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// BeginTx starts a transaction on the underlying connection. The migration
// runner uses this for its single outer transaction; everything inside goes
// through the store's Tx-suffixed primitives, never raw SQL.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}
