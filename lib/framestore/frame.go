// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framestore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/roomstate/lib/state"
)

// frameChecksum computes the integrity digest stored with a frame row:
// BLAKE3 over the appended blob followed by the disposed blob.
func frameChecksum(appended, disposed []byte) []byte {
	hasher := blake3.New()
	hasher.Write(appended)
	hasher.Write(disposed)
	return hasher.Sum(nil)
}

// SaveStateDelta persists a frame. Insert-only: if the frame id already
// exists the write is a silent no-op, so retrying admission of the same
// event is safe. There are no update or delete operations; frames are
// immutable once written.
//
// Upstream frame-id assignment is content-deterministic (one frame id
// per state snapshot, minted under the room's admission lock), so an
// ignored insert should always carry the same payload as the stored
// row. A divergent payload is logged at warn level rather than
// failing, preserving the first-writer-wins contract.
func (s *Store) SaveStateDelta(ctx context.Context, roomID string, frameID int64, diff state.StateDiff) error {
	conn, err := s.take(ctx, "save state delta")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	appendedBlob := diff.Appended.EncodeBlob()
	disposedBlob := diff.Disposed.EncodeBlob()
	checksum := frameChecksum(appendedBlob, disposedBlob)

	var parentID any
	if diff.ParentID != nil {
		parentID = *diff.ParentID
	}

	err = sqlitex.Execute(conn, `INSERT OR IGNORE INTO room_state_frames
		(frame_id, room_id, parent_id, appended, disposed, checksum)
		VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{frameID, roomID, parentID, appendedBlob, disposedBlob, checksum},
	})
	if err != nil {
		return fmt.Errorf("framestore: save frame %d: %w", frameID, err)
	}

	if conn.Changes() == 0 {
		stored, err := storedChecksum(conn, frameID)
		if err != nil {
			return err
		}
		if !bytes.Equal(stored, checksum) {
			s.logger.Warn("conflicting payload for existing frame discarded",
				"room_id", roomID,
				"frame_id", frameID,
			)
		}
		return nil
	}

	s.logger.Debug("frame saved",
		"room_id", roomID,
		"frame_id", frameID,
		"appended", diff.Appended.Len(),
		"disposed", diff.Disposed.Len(),
		"root", diff.ParentID == nil,
	)
	return nil
}

// storedChecksum reads the checksum column of an existing frame row.
func storedChecksum(conn *sqlite.Conn, frameID int64) ([]byte, error) {
	var stored []byte
	err := sqlitex.Execute(conn,
		"SELECT checksum FROM room_state_frames WHERE frame_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{frameID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stored = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, stored)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("framestore: read checksum for frame %d: %w", frameID, err)
	}
	return stored, nil
}

// LoadStateDiff reads a frame's diff record: parent pointer and the
// appended/disposed entry sets. Returns ErrFrameNotFound if no frame
// with the given id exists and ErrCorruptRecord if the stored blobs
// fail integrity checks.
func (s *Store) LoadStateDiff(ctx context.Context, frameID int64) (state.StateDiff, error) {
	conn, err := s.take(ctx, "load state diff")
	if err != nil {
		return state.StateDiff{}, err
	}
	defer s.pool.Put(conn)

	return loadStateDiff(conn, frameID)
}

// loadStateDiff is the connection-level load used by LoadStateDiff and
// the chain walks in reconstruct.go.
func loadStateDiff(conn *sqlite.Conn, frameID int64) (state.StateDiff, error) {
	var (
		found        bool
		parentID     *int64
		appendedBlob []byte
		disposedBlob []byte
		storedDigest []byte
	)
	err := sqlitex.Execute(conn,
		"SELECT parent_id, appended, disposed, checksum FROM room_state_frames WHERE frame_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{frameID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				if !stmt.ColumnIsNull(0) {
					id := stmt.ColumnInt64(0)
					parentID = &id
				}
				appendedBlob = make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, appendedBlob)
				disposedBlob = make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, disposedBlob)
				storedDigest = make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, storedDigest)
				return nil
			},
		})
	if err != nil {
		return state.StateDiff{}, fmt.Errorf("framestore: load frame %d: %w", frameID, err)
	}
	if !found {
		return state.StateDiff{}, fmt.Errorf("frame %d: %w", frameID, ErrFrameNotFound)
	}

	if !bytes.Equal(storedDigest, frameChecksum(appendedBlob, disposedBlob)) {
		return state.StateDiff{}, fmt.Errorf("frame %d: checksum mismatch: %w", frameID, ErrCorruptRecord)
	}

	appended, err := state.DecodeStateBlob(appendedBlob)
	if err != nil {
		return state.StateDiff{}, fmt.Errorf("frame %d appended: %w: %w", frameID, ErrCorruptRecord, err)
	}
	disposed, err := state.DecodeStateBlob(disposedBlob)
	if err != nil {
		return state.StateDiff{}, fmt.Errorf("frame %d disposed: %w: %w", frameID, ErrCorruptRecord, err)
	}

	return state.StateDiff{
		ParentID: parentID,
		Appended: appended,
		Disposed: disposed,
	}, nil
}
