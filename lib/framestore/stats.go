// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framestore

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Stats summarizes the store's contents for operational inspection.
type Stats struct {
	Rooms             int64
	Frames            int64
	RootFrames        int64
	Fields            int64
	Events            int64
	DatabaseSizeBytes int64
}

// Stats returns current storage statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	conn, err := s.take(ctx, "stats")
	if err != nil {
		return Stats{}, err
	}
	defer s.pool.Put(conn)

	var stats Stats
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(DISTINCT room_id) FROM room_state_frames", &stats.Rooms},
		{"SELECT COUNT(*) FROM room_state_frames", &stats.Frames},
		{"SELECT COUNT(*) FROM room_state_frames WHERE parent_id IS NULL", &stats.RootFrames},
		{"SELECT COUNT(*) FROM room_state_fields", &stats.Fields},
		{"SELECT COUNT(*) FROM room_events", &stats.Events},
		{"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()", &stats.DatabaseSizeBytes},
	}
	for _, q := range queries {
		err := sqlitex.ExecuteTransient(conn, q.query, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				*q.dest = stmt.ColumnInt64(0)
				return nil
			},
		})
		if err != nil {
			return Stats{}, fmt.Errorf("framestore: stats: %w", err)
		}
	}
	return stats, nil
}
