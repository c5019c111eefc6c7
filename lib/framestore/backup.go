// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framestore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/pierrec/lz4/v4"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/roomstate/lib/state"
)

// archiveVersion is the room archive format version. Bump on any
// incompatible change to the record layout.
const archiveVersion = 1

// Room archives are a stream of CBOR records (Core Deterministic
// Encoding, so identical store contents produce identical archives)
// inside an LZ4 frame. The first record is the header; every following
// record carries exactly one of the three payload kinds.
type archiveHeader struct {
	Version int    `cbor:"version"`
	RoomID  string `cbor:"room_id"`
}

type archiveRecord struct {
	Frame *archiveFrame `cbor:"frame,omitempty"`
	Field *archiveField `cbor:"field,omitempty"`
	Event *archiveEvent `cbor:"event,omitempty"`
}

type archiveFrame struct {
	FrameID  int64  `cbor:"frame_id"`
	ParentID *int64 `cbor:"parent_id,omitempty"`
	Appended []byte `cbor:"appended"`
	Disposed []byte `cbor:"disposed"`
}

type archiveField struct {
	FieldID   int64  `cbor:"field_id"`
	EventType string `cbor:"event_type"`
	StateKey  string `cbor:"state_key"`
}

type archiveEvent struct {
	EventSN int64  `cbor:"event_sn"`
	EventID string `cbor:"event_id"`
}

// archiveEncMode is the deterministic CBOR encoder for archive
// records (RFC 8949 §4.2: sorted map keys, smallest integer encoding,
// no indefinite-length items).
var archiveEncMode cbor.EncMode

// archiveDecMode accepts standard CBOR; unknown fields are ignored for
// forward compatibility with newer archive writers.
var archiveDecMode cbor.DecMode

func init() {
	var err error
	archiveEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("framestore: CBOR encoder initialization failed: " + err.Error())
	}
	archiveDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("framestore: CBOR decoder initialization failed: " + err.Error())
	}
}

// ExportRoom streams a room's complete frame forest to w as an LZ4
// compressed CBOR archive: every frame in frame-id order, the field
// dictionary rows those frames reference, and the room's event-
// sequence index rows. Frames are immutable and retained indefinitely,
// so an archive taken under the room's admission lock is a complete,
// consistent cold-storage copy.
func (s *Store) ExportRoom(ctx context.Context, roomID string, w io.Writer) error {
	conn, err := s.take(ctx, "export room")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	compressed := lz4.NewWriter(w)
	encoder := archiveEncMode.NewEncoder(compressed)

	if err := encoder.Encode(archiveHeader{Version: archiveVersion, RoomID: roomID}); err != nil {
		return fmt.Errorf("framestore: export %s: write header: %w", roomID, err)
	}

	// Frames, collecting the field ids their blobs reference along
	// the way so the dictionary section covers exactly this room.
	fieldIDs := make(map[int64]struct{})
	frameCount := 0
	err = sqlitex.Execute(conn,
		"SELECT frame_id, parent_id, appended, disposed FROM room_state_frames WHERE room_id = ? ORDER BY frame_id",
		&sqlitex.ExecOptions{
			Args: []any{roomID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				frame := archiveFrame{FrameID: stmt.ColumnInt64(0)}
				if !stmt.ColumnIsNull(1) {
					parentID := stmt.ColumnInt64(1)
					frame.ParentID = &parentID
				}
				frame.Appended = make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, frame.Appended)
				frame.Disposed = make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, frame.Disposed)

				for _, blob := range [][]byte{frame.Appended, frame.Disposed} {
					set, err := state.DecodeStateBlob(blob)
					if err != nil {
						return fmt.Errorf("frame %d: %w: %w", frame.FrameID, ErrCorruptRecord, err)
					}
					set.Ascend(func(entry state.CompressedEvent) bool {
						fieldIDs[entry.FieldID()] = struct{}{}
						return true
					})
				}

				frameCount++
				return encoder.Encode(archiveRecord{Frame: &frame})
			},
		})
	if err != nil {
		return fmt.Errorf("framestore: export %s: frames: %w", roomID, err)
	}

	for fieldID := range fieldIDs {
		var field *archiveField
		err = sqlitex.Execute(conn,
			"SELECT event_type, state_key FROM room_state_fields WHERE field_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{fieldID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					field = &archiveField{
						FieldID:   fieldID,
						EventType: stmt.ColumnText(0),
						StateKey:  stmt.ColumnText(1),
					}
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("framestore: export %s: field %d: %w", roomID, fieldID, err)
		}
		if field == nil {
			return fmt.Errorf("export %s: field %d has no dictionary row: %w", roomID, fieldID, ErrCorruptRecord)
		}
		if err := encoder.Encode(archiveRecord{Field: field}); err != nil {
			return fmt.Errorf("framestore: export %s: write field %d: %w", roomID, fieldID, err)
		}
	}

	err = sqlitex.Execute(conn,
		"SELECT event_sn, event_id FROM room_events WHERE room_id = ? ORDER BY event_sn",
		&sqlitex.ExecOptions{
			Args: []any{roomID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				return encoder.Encode(archiveRecord{Event: &archiveEvent{
					EventSN: stmt.ColumnInt64(0),
					EventID: stmt.ColumnText(1),
				}})
			},
		})
	if err != nil {
		return fmt.Errorf("framestore: export %s: events: %w", roomID, err)
	}

	if err := compressed.Close(); err != nil {
		return fmt.Errorf("framestore: export %s: flush: %w", roomID, err)
	}

	s.logger.Info("room exported",
		"room_id", roomID,
		"frames", frameCount,
		"fields", len(fieldIDs),
	)
	return nil
}

// ImportRoom replays a room archive produced by ExportRoom into the
// store. Every insert goes through the same insert-or-ignore paths as
// live writes, so importing into a store that already holds some of
// the room (or retrying a previously interrupted import) is safe.
// Returns the archived room id and the number of frame records read.
func (s *Store) ImportRoom(ctx context.Context, r io.Reader) (roomID string, frames int, err error) {
	conn, err := s.take(ctx, "import room")
	if err != nil {
		return "", 0, err
	}
	defer s.pool.Put(conn)

	decoder := archiveDecMode.NewDecoder(lz4.NewReader(r))

	var header archiveHeader
	if err = decoder.Decode(&header); err != nil {
		return "", 0, fmt.Errorf("framestore: import: read header: %w", err)
	}
	if header.Version != archiveVersion {
		return "", 0, fmt.Errorf("framestore: import: unsupported archive version %d", header.Version)
	}

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return "", 0, fmt.Errorf("framestore: import %s: begin transaction: %w", header.RoomID, err)
	}
	defer endTransaction(&err)

	frameCount := 0
	for {
		var record archiveRecord
		if err = decoder.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
				break
			}
			return "", 0, fmt.Errorf("framestore: import %s: read record: %w", header.RoomID, err)
		}

		switch {
		case record.Frame != nil:
			if err = s.importFrame(conn, header.RoomID, record.Frame); err != nil {
				return "", 0, err
			}
			frameCount++
		case record.Field != nil:
			err = sqlitex.Execute(conn,
				"INSERT OR IGNORE INTO room_state_fields (field_id, event_type, state_key) VALUES (?, ?, ?)",
				&sqlitex.ExecOptions{Args: []any{record.Field.FieldID, record.Field.EventType, record.Field.StateKey}})
			if err != nil {
				return "", 0, fmt.Errorf("framestore: import %s: field %d: %w", header.RoomID, record.Field.FieldID, err)
			}
		case record.Event != nil:
			err = sqlitex.Execute(conn,
				"INSERT OR IGNORE INTO room_events (event_sn, room_id, event_id) VALUES (?, ?, ?)",
				&sqlitex.ExecOptions{Args: []any{record.Event.EventSN, header.RoomID, record.Event.EventID}})
			if err != nil {
				return "", 0, fmt.Errorf("framestore: import %s: event sn %d: %w", header.RoomID, record.Event.EventSN, err)
			}
		default:
			return "", 0, fmt.Errorf("framestore: import %s: record carries no payload", header.RoomID)
		}
	}

	s.logger.Info("room imported",
		"room_id", header.RoomID,
		"frames", frameCount,
	)
	return header.RoomID, frameCount, nil
}

// importFrame validates and inserts one archived frame. The checksum
// is recomputed from the archived blobs rather than trusted from the
// archive.
func (s *Store) importFrame(conn *sqlite.Conn, roomID string, frame *archiveFrame) error {
	if len(frame.Appended)%state.EntrySize != 0 || len(frame.Disposed)%state.EntrySize != 0 {
		return fmt.Errorf("import %s: frame %d blob length: %w", roomID, frame.FrameID, ErrCorruptRecord)
	}

	var parentID any
	if frame.ParentID != nil {
		parentID = *frame.ParentID
	}

	err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO room_state_frames
		(frame_id, room_id, parent_id, appended, disposed, checksum)
		VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{frame.FrameID, roomID, parentID, frame.Appended, frame.Disposed, frameChecksum(frame.Appended, frame.Disposed)},
	})
	if err != nil {
		return fmt.Errorf("framestore: import %s: frame %d: %w", roomID, frame.FrameID, err)
	}
	return nil
}
