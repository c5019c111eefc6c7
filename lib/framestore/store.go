// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/roomstate/lib/state"
)

// SnapshotCache is an optional cache of reconstructed full snapshots
// keyed by frame id. Frames are immutable, so cached snapshots never
// go stale; the cache only trades memory for reconstruction work.
// Implementations must be safe for concurrent use. Package statecache
// provides the standard compressed LRU implementation.
type SnapshotCache interface {
	Get(frameID int64) (state.CompressedState, bool)
	Put(frameID int64, snapshot state.CompressedState)
}

// Config holds the parameters for opening a frame store. Path is
// required; all other fields have defaults.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. The file is created if it does not
	// exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative. Writes are serialized by SQLite anyway;
	// extra connections help concurrent reconstruction reads.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// Cache, if non-nil, is consulted by FullState before walking a
	// frame's ancestor chain and populated after a rebuild.
	Cache SnapshotCache
}

// Store is the durable frame store: SQLite-backed persistence of
// room-state diff frames, the field dictionary, and the event-sequence
// index.
//
// Store is safe for concurrent use. Frames are immutable once written,
// so reads need no locking; write ordering within a room is the
// caller's responsibility (see the package comment).
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	cache  SnapshotCache
	path   string
}

// Open creates a frame store backed by SQLite, applying WAL-mode
// pragmas and creating the schema on each connection's first use. The
// caller must call Close when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("framestore: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("framestore: opening %s: %w", cfg.Path, err)
	}

	logger.Info("frame store opened",
		"path", cfg.Path,
		"pool_size", poolSize,
		"cache", cfg.Cache != nil,
	)

	return &Store{
		pool:   pool,
		logger: logger,
		cache:  cfg.Cache,
		path:   cfg.Path,
	}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("framestore: closing %s: %w", s.path, err)
	}
	s.logger.Info("frame store closed", "path", s.path)
	return nil
}

// prepareConnection applies standard pragmas and ensures the schema.
// Runs once per pooled connection, on first use.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("framestore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("framestore: creating schema: %w", err)
	}
	return nil
}

// schema is the complete store layout. All three tables are
// insert-only: frames are immutable diff records, field ids are
// assigned lazily and never reassigned, and event rows referenced by a
// frame must remain resolvable indefinitely.
//
// appended and disposed are raw blobs holding a flat concatenation of
// 16-byte big-endian (field_id, event_sn) pairs, no length prefix; the
// record count is blob length / 16. checksum is a BLAKE3 digest over
// appended followed by disposed, verified on every load.
const schema = `
	CREATE TABLE IF NOT EXISTS room_state_frames (
		frame_id  INTEGER PRIMARY KEY,
		room_id   TEXT NOT NULL,
		parent_id INTEGER,
		appended  BLOB NOT NULL,
		disposed  BLOB NOT NULL,
		checksum  BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_frames_room ON room_state_frames(room_id);

	CREATE TABLE IF NOT EXISTS room_state_fields (
		field_id   INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		state_key  TEXT NOT NULL,
		UNIQUE(event_type, state_key)
	);

	CREATE TABLE IF NOT EXISTS room_events (
		event_sn INTEGER PRIMARY KEY,
		room_id  TEXT NOT NULL,
		event_id TEXT NOT NULL UNIQUE
	);
	CREATE INDEX IF NOT EXISTS idx_events_room ON room_events(room_id);
`

// take borrows a pooled connection, wrapping the error with the
// operation name for context.
func (s *Store) take(ctx context.Context, operation string) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("framestore: %s: %w", operation, err)
	}
	return conn, nil
}
