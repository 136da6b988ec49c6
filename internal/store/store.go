// Package store provides the local relational store for the reelsync engine.
//
// This package implements the entity repository: scenes, reference entities
// (performers, tags, studios), and the sync-history audit trail live in an
// embedded SQLite database accessed through database/sql.
//
// The database runs in embedded mode with WAL for concurrency support. A
// libsql:// path selects the go-libsql driver instead, which opens an
// embedded replica of a hosted database; everything above the driver is
// identical in both modes.
//
// Architecture:
//   - Database file: ~/.reelsync/reelsync.db (configurable)
//   - WAL mode: concurrent readers during writes
//   - Schema: scenes, scene_files, scene_performers, scene_tags,
//     performers, tags, studios, sync_history
//   - Indexes: optimized for staleness queries (last_synced) and
//     conflict listings (sync_conflict)
//
// Bulk upserts run as one transaction per call with a savepoint per row,
// so a failing row rolls back alone while the rest of the batch persists.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
	_ "github.com/tursodatabase/go-libsql"
)

// Common errors returned by the store.
var (
	// ErrUnsupportedEntity is returned when a bulk operation names an
	// entity kind that has no table. This is a configuration error on
	// the caller's side, raised immediately rather than skipped.
	ErrUnsupportedEntity = errors.New("unsupported entity kind")
)

// EntityKind identifies an entity collection in the store. The scene kind
// appears in sync history rows but has no reference-entity table.
type EntityKind string

const (
	KindScene     EntityKind = "scene"
	KindPerformer EntityKind = "performer"
	KindTag       EntityKind = "tag"
	KindStudio    EntityKind = "studio"
)

// entityTable maps a reference-entity kind to its table name. Returns an
// empty string for kinds without a table (scenes, unknown kinds).
func entityTable(kind EntityKind) string {
	switch kind {
	case KindPerformer:
		return "performers"
	case KindTag:
		return "tags"
	case KindStudio:
		return "studios"
	default:
		return ""
	}
}

// RowError reports a single row that failed to persist inside a bulk call.
// The failing row's savepoint was rolled back; other rows in the same call
// are unaffected.
type RowError struct {
	// ID is the entity id of the failing row.
	ID string
	// Err is the underlying database error.
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %s: %v", e.ID, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// Options configures Open. The zero value selects defaults.
type Options struct {
	// MemoryLimitPages caps the wasm memory available to the embedded
	// SQLite engine, in 64 KiB pages. Zero leaves the runtime default.
	// Ignored for libsql:// paths, which do not run in wasm.
	MemoryLimitPages uint32

	// Logger receives store diagnostics. Defaults to stderr with a
	// "[store] " prefix.
	Logger *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.New(os.Stderr, "[store] ", log.LstdFlags)
}

// Store wraps the database connection with repository functionality.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates a database connection at the specified path.
//
// Plain paths open the bundled SQLite engine in embedded mode with WAL for
// concurrent reads; a libsql:// URL opens the go-libsql driver instead.
// If the database doesn't exist, it is created; call InitSchema before the
// first use.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	st, err := store.Open("~/.reelsync/reelsync.db", store.Options{})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string, opts Options) (*Store, error) {
	driver, connStr := "sqlite3", "file:"+path
	if strings.HasPrefix(path, "libsql://") {
		driver, connStr = "libsql", path
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		if opts.MemoryLimitPages > 0 {
			sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().
				WithMemoryLimitPages(opts.MemoryLimitPages)
		}
	}

	conn, err := sql.Open(driver, connStr)
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

	st := &Store{
		conn:   conn,
		path:   path,
		logger: opts.logger(),
	}

	// WAL mode for concurrent reads
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This creates the scene, reference-entity, join, and sync-history tables
// along with the indexes the sync engine queries. Idempotent - safe to call
// multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Reference entities
	CREATE TABLE IF NOT EXISTS performers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		aliases TEXT,  -- JSON array
		url TEXT NOT NULL DEFAULT '',
		remote_updated_at TEXT,
		last_synced TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		aliases TEXT,  -- JSON array
		url TEXT NOT NULL DEFAULT '',
		remote_updated_at TEXT,
		last_synced TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS studios (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		aliases TEXT,  -- JSON array
		url TEXT NOT NULL DEFAULT '',
		remote_updated_at TEXT,
		last_synced TEXT NOT NULL
	);

	-- Scenes
	CREATE TABLE IF NOT EXISTS scenes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		date TEXT,
		rating INTEGER,  -- 0-5, NULL when unrated
		organized INTEGER NOT NULL DEFAULT 0,
		content_checksum TEXT NOT NULL DEFAULT '',
		manual_edit INTEGER NOT NULL DEFAULT 0,
		sync_conflict INTEGER NOT NULL DEFAULT 0,
		conflict_data TEXT,  -- JSON change map while a manual conflict is pending
		studio_id TEXT REFERENCES studios(id),
		remote_created_at TEXT,
		remote_updated_at TEXT,
		last_synced TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scene_files (
		scene_id TEXT NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		duration REAL NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		frame_rate REAL NOT NULL DEFAULT 0,
		bit_rate INTEGER NOT NULL DEFAULT 0,
		video_codec TEXT NOT NULL DEFAULT '',
		audio_codec TEXT NOT NULL DEFAULT '',
		is_primary INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (scene_id, position)
	);

	CREATE TABLE IF NOT EXISTS scene_performers (
		scene_id TEXT NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
		performer_id TEXT NOT NULL REFERENCES performers(id),
		PRIMARY KEY (scene_id, performer_id)
	);

	CREATE TABLE IF NOT EXISTS scene_tags (
		scene_id TEXT NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
		tag_id TEXT NOT NULL REFERENCES tags(id),
		PRIMARY KEY (scene_id, tag_id)
	);

	-- Per-run audit trail, append-only
	CREATE TABLE IF NOT EXISTS sync_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		started_at TEXT NOT NULL,
		completed_at TEXT,
		synced_count INTEGER NOT NULL DEFAULT 0,
		created_count INTEGER NOT NULL DEFAULT 0,
		updated_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		errors TEXT  -- JSON array
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_scenes_last_synced ON scenes(last_synced);
	CREATE INDEX IF NOT EXISTS idx_scenes_conflict ON scenes(sync_conflict);
	CREATE INDEX IF NOT EXISTS idx_scenes_studio ON scenes(studio_id);
	CREATE INDEX IF NOT EXISTS idx_performers_last_synced ON performers(last_synced);
	CREATE INDEX IF NOT EXISTS idx_tags_last_synced ON tags(last_synced);
	CREATE INDEX IF NOT EXISTS idx_studios_last_synced ON studios(last_synced);
	CREATE INDEX IF NOT EXISTS idx_history_lookup
	    ON sync_history(entity_type, status, completed_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// dateToNullString formats a date pointer as a date-only SQL string.
func dateToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format("2006-01-02"), Valid: true}
}

// nullStringToDate parses a date-only SQL string into a time pointer.
func nullStringToDate(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse("2006-01-02", ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// intToNull converts an int pointer to a nullable SQL value.
func intToNull(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// nullToInt converts a nullable SQL value to an int pointer.
func nullToInt(nv sql.NullInt64) *int {
	if !nv.Valid {
		return nil
	}
	v := int(nv.Int64)
	return &v
}

// stringToNull converts an empty string to SQL NULL; anything else passes
// through. Used for optional foreign keys like scenes.studio_id.
func stringToNull(v string) sql.NullString {
	if v == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: v, Valid: true}
}
