// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framestore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/roomstate/lib/framestore"
	"github.com/bureau-foundation/roomstate/lib/state"
)

// openTestStore opens a frame store on a fresh database under the
// test's temporary directory.
func openTestStore(t *testing.T, cache framestore.SnapshotCache) *framestore.Store {
	t.Helper()
	store, err := framestore.Open(framestore.Config{
		Path:  filepath.Join(t.TempDir(), "frames.db"),
		Cache: cache,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func entry(fieldID, eventSN int64) state.CompressedEvent {
	return state.NewCompressedEvent(fieldID, eventSN)
}

func ptr(v int64) *int64 {
	return &v
}

func TestSaveAndLoadStateDiff(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, nil)

	diff := state.StateDiff{
		ParentID: nil,
		Appended: state.NewCompressedStateOf(entry(1, 10), entry(2, 20)),
		Disposed: state.NewCompressedState(),
	}
	if err := store.SaveStateDelta(ctx, "!room:example.org", 1, diff); err != nil {
		t.Fatalf("SaveStateDelta: %v", err)
	}

	loaded, err := store.LoadStateDiff(ctx, 1)
	if err != nil {
		t.Fatalf("LoadStateDiff: %v", err)
	}
	if loaded.ParentID != nil {
		t.Errorf("ParentID = %d, want nil", *loaded.ParentID)
	}
	if !loaded.Appended.Equal(diff.Appended) {
		t.Errorf("appended = %v, want %v", loaded.Appended.Entries(), diff.Appended.Entries())
	}
	if loaded.Disposed.Len() != 0 {
		t.Errorf("disposed has %d entries, want 0", loaded.Disposed.Len())
	}
}

func TestLoadStateDiffNotFound(t *testing.T) {
	store := openTestStore(t, nil)
	_, err := store.LoadStateDiff(context.Background(), 404)
	if !errors.Is(err, framestore.ErrFrameNotFound) {
		t.Errorf("LoadStateDiff(404) = %v, want ErrFrameNotFound", err)
	}
}

func TestSaveStateDeltaIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, nil)

	first := state.StateDiff{
		Appended: state.NewCompressedStateOf(entry(1, 10)),
		Disposed: state.NewCompressedState(),
	}
	if err := store.SaveStateDelta(ctx, "!room:example.org", 7, first); err != nil {
		t.Fatalf("SaveStateDelta: %v", err)
	}
	// Identical retry is a no-op.
	if err := store.SaveStateDelta(ctx, "!room:example.org", 7, first); err != nil {
		t.Fatalf("SaveStateDelta retry: %v", err)
	}
	// A conflicting payload for the same frame id is silently
	// discarded: first writer wins.
	second := state.StateDiff{
		Appended: state.NewCompressedStateOf(entry(9, 90)),
		Disposed: state.NewCompressedState(),
	}
	if err := store.SaveStateDelta(ctx, "!room:example.org", 7, second); err != nil {
		t.Fatalf("SaveStateDelta conflicting: %v", err)
	}

	loaded, err := store.LoadStateDiff(ctx, 7)
	if err != nil {
		t.Fatalf("LoadStateDiff: %v", err)
	}
	if !loaded.Appended.Equal(first.Appended) {
		t.Errorf("stored record changed; appended = %v, want %v",
			loaded.Appended.Entries(), first.Appended.Entries())
	}
}

// tamperFrame mutates a stored frame row directly, bypassing the
// store, to simulate on-disk corruption.
func tamperFrame(t *testing.T, path, column string, value []byte, frameID int64) {
	t.Helper()
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		t.Fatalf("OpenConn: %v", err)
	}
	defer conn.Close()

	err = sqlitex.Execute(conn,
		"UPDATE room_state_frames SET "+column+" = ? WHERE frame_id = ?",
		&sqlitex.ExecOptions{Args: []any{value, frameID}})
	if err != nil {
		t.Fatalf("tamper update: %v", err)
	}
}

func TestLoadStateDiffCorruptBlob(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "frames.db")
	store, err := framestore.Open(framestore.Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	diff := state.StateDiff{
		Appended: state.NewCompressedStateOf(entry(1, 10)),
		Disposed: state.NewCompressedState(),
	}
	if err := store.SaveStateDelta(ctx, "!room:example.org", 1, diff); err != nil {
		t.Fatalf("SaveStateDelta: %v", err)
	}

	// A truncated blob no longer matches the stored checksum.
	tamperFrame(t, path, "appended", []byte{0x01, 0x02, 0x03}, 1)
	if _, err := store.LoadStateDiff(ctx, 1); !errors.Is(err, framestore.ErrCorruptRecord) {
		t.Errorf("LoadStateDiff on truncated blob = %v, want ErrCorruptRecord", err)
	}

	// A full-length bit flip is caught by the checksum too.
	flipped := state.NewCompressedStateOf(entry(1, 11)).EncodeBlob()
	tamperFrame(t, path, "appended", flipped, 1)
	if _, err := store.LoadStateDiff(ctx, 1); !errors.Is(err, framestore.ErrCorruptRecord) {
		t.Errorf("LoadStateDiff on flipped blob = %v, want ErrCorruptRecord", err)
	}
}

func TestEnsureFieldID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, nil)

	memberAlice, err := store.EnsureFieldID(ctx, "m.room.member", "@alice:example.org")
	if err != nil {
		t.Fatalf("EnsureFieldID: %v", err)
	}
	memberBob, err := store.EnsureFieldID(ctx, "m.room.member", "@bob:example.org")
	if err != nil {
		t.Fatalf("EnsureFieldID: %v", err)
	}
	if memberAlice == memberBob {
		t.Error("distinct (type, key) pairs share a field id")
	}

	again, err := store.EnsureFieldID(ctx, "m.room.member", "@alice:example.org")
	if err != nil {
		t.Fatalf("EnsureFieldID repeat: %v", err)
	}
	if again != memberAlice {
		t.Errorf("field id changed across calls: %d then %d", memberAlice, again)
	}

	eventType, stateKey, err := store.FieldName(ctx, memberBob)
	if err != nil {
		t.Fatalf("FieldName: %v", err)
	}
	if eventType != "m.room.member" || stateKey != "@bob:example.org" {
		t.Errorf("FieldName = (%q, %q), want (m.room.member, @bob:example.org)", eventType, stateKey)
	}

	if _, _, err := store.FieldName(ctx, 9999); !errors.Is(err, framestore.ErrCorruptRecord) {
		t.Errorf("FieldName(9999) = %v, want ErrCorruptRecord", err)
	}
}

func TestEventIndexAndSplit(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, nil)

	if err := store.RecordEvent(ctx, "!room:example.org", 42, "$event42"); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	// Idempotent retry.
	if err := store.RecordEvent(ctx, "!room:example.org", 42, "$event42"); err != nil {
		t.Fatalf("RecordEvent retry: %v", err)
	}

	eventID, err := store.EventIDBySN(ctx, 42)
	if err != nil {
		t.Fatalf("EventIDBySN: %v", err)
	}
	if eventID != "$event42" {
		t.Errorf("EventIDBySN(42) = %q, want $event42", eventID)
	}

	fieldID, eventID, err := store.Split(ctx, entry(5, 42))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if fieldID != 5 || eventID != "$event42" {
		t.Errorf("Split = (%d, %q), want (5, $event42)", fieldID, eventID)
	}

	// A sequence number missing from the index is a corrupted backing
	// index, not a lookup miss.
	if _, _, err := store.Split(ctx, entry(5, 43)); !errors.Is(err, framestore.ErrCorruptRecord) {
		t.Errorf("Split on unindexed sn = %v, want ErrCorruptRecord", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, nil)

	root := state.StateDiff{
		Appended: state.NewCompressedStateOf(entry(1, 1)),
		Disposed: state.NewCompressedState(),
	}
	if err := store.SaveStateDelta(ctx, "!a:example.org", 1, root); err != nil {
		t.Fatalf("SaveStateDelta: %v", err)
	}
	child := state.StateDiff{
		ParentID: ptr(1),
		Appended: state.NewCompressedStateOf(entry(2, 2)),
		Disposed: state.NewCompressedState(),
	}
	if err := store.SaveStateDelta(ctx, "!a:example.org", 2, child); err != nil {
		t.Fatalf("SaveStateDelta: %v", err)
	}
	if err := store.RecordEvent(ctx, "!a:example.org", 1, "$e1"); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Rooms != 1 || stats.Frames != 2 || stats.RootFrames != 1 || stats.Events != 1 {
		t.Errorf("Stats = %+v, want 1 room, 2 frames, 1 root, 1 event", stats)
	}
}
