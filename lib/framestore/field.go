// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framestore

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/roomstate/lib/state"
)

// EnsureFieldID returns the stable field id for an (event type, state
// key) pair, assigning one on first use. Assignment is lazy and
// immutable: once a pair has an id, every later call returns the same
// id, and ids are never reused for a different pair.
func (s *Store) EnsureFieldID(ctx context.Context, eventType, stateKey string) (int64, error) {
	conn, err := s.take(ctx, "ensure field id")
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO room_state_fields (event_type, state_key) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{eventType, stateKey}})
	if err != nil {
		return 0, fmt.Errorf("framestore: ensure field (%s, %s): %w", eventType, stateKey, err)
	}

	var fieldID int64
	var found bool
	err = sqlitex.Execute(conn,
		"SELECT field_id FROM room_state_fields WHERE event_type = ? AND state_key = ?",
		&sqlitex.ExecOptions{
			Args: []any{eventType, stateKey},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				fieldID = stmt.ColumnInt64(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("framestore: look up field (%s, %s): %w", eventType, stateKey, err)
	}
	if !found {
		return 0, fmt.Errorf("framestore: field (%s, %s) missing after insert", eventType, stateKey)
	}
	return fieldID, nil
}

// FieldName resolves a field id back to its (event type, state key)
// pair. Returns ErrCorruptRecord for an id that was never assigned:
// field ids reachable from a stored frame always have a dictionary
// row.
func (s *Store) FieldName(ctx context.Context, fieldID int64) (eventType, stateKey string, err error) {
	conn, err := s.take(ctx, "field name")
	if err != nil {
		return "", "", err
	}
	defer s.pool.Put(conn)

	var found bool
	err = sqlitex.Execute(conn,
		"SELECT event_type, state_key FROM room_state_fields WHERE field_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{fieldID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				eventType = stmt.ColumnText(0)
				stateKey = stmt.ColumnText(1)
				found = true
				return nil
			},
		})
	if err != nil {
		return "", "", fmt.Errorf("framestore: look up field %d: %w", fieldID, err)
	}
	if !found {
		return "", "", fmt.Errorf("field %d has no dictionary row: %w", fieldID, ErrCorruptRecord)
	}
	return eventType, stateKey, nil
}

// RecordEvent indexes an admitted event's sequence number against its
// event id. Insert-only and idempotent; sequence numbers are monotonic
// per room and never reused, and rows referenced by a frame are never
// deleted.
func (s *Store) RecordEvent(ctx context.Context, roomID string, eventSN int64, eventID string) error {
	conn, err := s.take(ctx, "record event")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR IGNORE INTO room_events (event_sn, room_id, event_id) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{eventSN, roomID, eventID}})
	if err != nil {
		return fmt.Errorf("framestore: record event sn %d: %w", eventSN, err)
	}
	return nil
}

// EventIDBySN resolves an event sequence number to its canonical event
// id. A sequence number referenced by a frame that no longer resolves
// means the backing index has been corrupted, so the miss surfaces as
// ErrCorruptRecord.
func (s *Store) EventIDBySN(ctx context.Context, eventSN int64) (string, error) {
	conn, err := s.take(ctx, "event id by sn")
	if err != nil {
		return "", err
	}
	defer s.pool.Put(conn)

	var eventID string
	var found bool
	err = sqlitex.Execute(conn,
		"SELECT event_id FROM room_events WHERE event_sn = ?",
		&sqlitex.ExecOptions{
			Args: []any{eventSN},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				eventID = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("framestore: look up event sn %d: %w", eventSN, err)
	}
	if !found {
		return "", fmt.Errorf("event sn %d not in index: %w", eventSN, ErrCorruptRecord)
	}
	return eventID, nil
}

// Split decodes an entry into its field id and resolves the event
// half to the canonical event id via the event-sequence index.
func (s *Store) Split(ctx context.Context, entry state.CompressedEvent) (fieldID int64, eventID string, err error) {
	eventID, err = s.EventIDBySN(ctx, entry.EventSN())
	if err != nil {
		return 0, "", err
	}
	return entry.FieldID(), eventID, nil
}
