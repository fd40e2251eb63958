// Package db provides the embedded SQLite document store for journal entries.
//
// This is the durable, on-device source of truth. Entries are stored as flat
// JSON documents keyed by uuid, with indexed columns for the partition, the
// tool and the creation time so that partition reads come back newest first
// without a sort in Go.
//
// The database runs in embedded mode through ncruces/go-sqlite3 (no CGO) with
// WAL enabled so reads stay fast while background writes land.
//
// Architecture:
//   - Database file: <data_dir>/mindlog.db
//   - Table: log_entries (uuid PK, partition, tool, created_at, updated_at, doc)
//   - Indexes: (partition, created_at), (tool)
//
// The connection is opened lazily on first use. If the engine cannot be opened
// every operation fails fast with ErrStoreUnavailable, and callers fall back to
// the legacy store instead of retrying.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mindlog/mindlog/internal/logstore/schema"
)

var (
	// ErrStoreUnavailable is returned by every operation when the engine
	// could not be opened (disabled storage, read-only media, bad path).
	ErrStoreUnavailable = errors.New("persistent store unavailable")

	// ErrCorruptDocument marks a stored row whose document cannot be decoded.
	ErrCorruptDocument = errors.New("corrupt log entry document")
)

// openTimeout bounds the pragmas and schema creation of the first open.
// Establishing the first connection is not bounded: it compiles the SQLite
// module, which can be slow on a cold start.
var openTimeout = 30 * time.Second

// connect establishes the first connection of a new pool.
var connect = func(ctx context.Context, conn *sql.DB) error {
	return conn.PingContext(ctx)
}

// Store wraps the SQLite connection with entry-level CRUD.
// It is safe for concurrent use.
type Store struct {
	path   string
	logger *log.Logger

	once sync.Once
	conn *sql.DB
	err  error

	mu     sync.Mutex
	closed bool
}

// New returns a Store for the database file at path. Nothing is opened until
// the first operation (or an explicit Open) runs.
//
// If logger is nil, a default logger writing to stderr is used.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[db] ", log.LstdFlags)
	}
	return &Store{path: path, logger: logger}
}

// Unavailable returns a Store whose engine is permanently unavailable.
// It stands in for environments where durable storage is disabled.
func Unavailable(cause error) *Store {
	s := &Store{logger: log.New(os.Stderr, "[db] ", log.LstdFlags)}
	s.once.Do(func() {
		s.err = fmt.Errorf("%w: %v", ErrStoreUnavailable, cause)
	})
	return s
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Open opens the database and creates the schema on first call.
//
// Open is idempotent: concurrent callers wait on the same attempt and every
// later call returns the same handle (or the same failure) without reopening.
func (s *Store) Open(ctx context.Context) (*sql.DB, error) {
	s.once.Do(func() {
		conn, err := open(context.WithoutCancel(ctx), s.path)
		if err != nil {
			s.err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			s.logger.Printf("WARNING: %v", s.err)
			return
		}
		s.conn = conn
	})

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: store closed", ErrStoreUnavailable)
	}
	return s.conn, s.err
}

func open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("empty database path")
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := connect(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := initSchema(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// initSchema creates the document table and its indexes if missing.
func initSchema(ctx context.Context, conn *sql.DB) error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS log_entries (
		uuid TEXT PRIMARY KEY,
		partition TEXT NOT NULL,
		tool TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		doc TEXT NOT NULL  -- flat JSON document
	);

	CREATE INDEX IF NOT EXISTS idx_log_entries_partition
	    ON log_entries(partition, created_at);
	CREATE INDEX IF NOT EXISTS idx_log_entries_tool ON log_entries(tool);
	`

	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection after a WAL checkpoint.
// Later operations fail with ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// Never opened: make sure a later Open cannot open it either.
	s.once.Do(func() {
		s.err = fmt.Errorf("%w: store closed", ErrStoreUnavailable)
	})
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO log_entries (uuid, partition, tool, created_at, updated_at, doc)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(uuid) DO UPDATE SET
		partition = excluded.partition,
		tool = excluded.tool,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		doc = excluded.doc
	`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, ex execer, entry *schema.LogEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry %s: %w", entry.MergeKey(), err)
	}

	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry %s: %w", entry.UUID, err)
	}

	_, err = ex.ExecContext(ctx, upsertSQL,
		entry.UUID,
		string(entry.Partition),
		nullString(entry.Tool),
		schema.FormatTime(entry.CreatedAt),
		schema.FormatTime(entry.EffectiveUpdatedAt()),
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entry %s: %w", entry.UUID, err)
	}
	return nil
}

// Put inserts or replaces one entry, keyed by uuid.
func (s *Store) Put(ctx context.Context, entry *schema.LogEntry) error {
	conn, err := s.Open(ctx)
	if err != nil {
		return err
	}
	return upsert(ctx, conn, entry)
}

// BulkPut upserts entries in a single transaction: all land or none do.
func (s *Store) BulkPut(ctx context.Context, entries []*schema.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	conn, err := s.Open(ctx)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := upsert(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByPartition returns the partition's entries, newest first.
func (s *Store) GetByPartition(ctx context.Context, p schema.Partition) ([]*schema.LogEntry, error) {
	conn, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT uuid, doc FROM log_entries
		WHERE partition = ?
		ORDER BY created_at DESC
	`, string(p))
	if err != nil {
		return nil, fmt.Errorf("failed to query partition %s: %w", p, err)
	}
	defer rows.Close()

	return s.scanEntries(rows)
}

// GetAll returns every entry across partitions, newest first.
func (s *Store) GetAll(ctx context.Context) ([]*schema.LogEntry, error) {
	conn, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT uuid, doc FROM log_entries
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	return s.scanEntries(rows)
}

// DeleteByPartition removes every entry in the partition.
func (s *Store) DeleteByPartition(ctx context.Context, p schema.Partition) error {
	conn, err := s.Open(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM log_entries WHERE partition = ?`, string(p)); err != nil {
		return fmt.Errorf("failed to delete partition %s: %w", p, err)
	}
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	conn, err := s.Open(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM log_entries`); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	conn, err := s.Open(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// scanEntries decodes document rows. Rows that fail to decode are logged and
// skipped so one bad document never hides the rest of a partition.
func (s *Store) scanEntries(rows *sql.Rows) ([]*schema.LogEntry, error) {
	entries := []*schema.LogEntry{}

	for rows.Next() {
		var uuid, doc string
		if err := rows.Scan(&uuid, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		var entry schema.LogEntry
		if err := json.Unmarshal([]byte(doc), &entry); err != nil {
			s.logger.Printf("WARNING: skipping %s: %v", uuid, fmt.Errorf("%w: %v", ErrCorruptDocument, err))
			continue
		}
		if entry.UUID == "" {
			entry.UUID = uuid
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	schema.SortNewestFirst(entries)
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
