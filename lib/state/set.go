// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"

	"github.com/google/btree"
)

// btreeDegree is the branching factor for snapshot sets. Room state
// sets range from a handful of entries to tens of thousands of
// memberships in large federated rooms; 32 keeps the tree shallow
// without wasting node space on small rooms.
const btreeDegree = 32

// CompressedState is a sorted, deduplicated set of state entries. It
// represents either a full room-state snapshot or one side (appended or
// disposed) of a frame diff.
//
// The set is backed by a copy-on-write B-tree: Clone is O(1) and the
// original and clone share nodes until one of them writes. The diff
// compressor leans on this: folding a candidate diff into an ancestor
// layer clones the ancestor's sets and rewrites the clones, leaving the
// caller's ancestor stack untouched.
//
// The zero value is not usable; construct with [NewCompressedState] or
// [DecodeStateBlob]. Not safe for concurrent mutation; a set under
// construction is owned by a single goroutine until handed off.
type CompressedState struct {
	tree *btree.BTreeG[CompressedEvent]
}

// NewCompressedState returns an empty snapshot set.
func NewCompressedState() CompressedState {
	return CompressedState{
		tree: btree.NewG(btreeDegree, CompressedEvent.Less),
	}
}

// NewCompressedStateOf returns a snapshot set holding the given
// entries. Duplicates collapse.
func NewCompressedStateOf(entries ...CompressedEvent) CompressedState {
	set := NewCompressedState()
	for _, entry := range entries {
		set.Insert(entry)
	}
	return set
}

// Insert adds an entry to the set. Inserting an entry that is already
// present is a no-op.
func (s CompressedState) Insert(entry CompressedEvent) {
	s.tree.ReplaceOrInsert(entry)
}

// Remove deletes an entry from the set, reporting whether it was
// present. The fold rule depends on this return value: a disposal that
// cancels an ancestor's append must not also be recorded as a disposal.
func (s CompressedState) Remove(entry CompressedEvent) bool {
	_, present := s.tree.Delete(entry)
	return present
}

// Has reports whether the entry is in the set.
func (s CompressedState) Has(entry CompressedEvent) bool {
	return s.tree.Has(entry)
}

// Len returns the number of entries in the set.
func (s CompressedState) Len() int {
	return s.tree.Len()
}

// Clone returns a copy-on-write copy of the set. The two sets may be
// mutated independently afterwards.
func (s CompressedState) Clone() CompressedState {
	return CompressedState{tree: s.tree.Clone()}
}

// Ascend calls fn for every entry in byte-wise ascending order,
// stopping early if fn returns false.
func (s CompressedState) Ascend(fn func(CompressedEvent) bool) {
	s.tree.Ascend(fn)
}

// Entries returns the set's contents as a sorted slice.
func (s CompressedState) Entries() []CompressedEvent {
	out := make([]CompressedEvent, 0, s.Len())
	s.tree.Ascend(func(entry CompressedEvent) bool {
		out = append(out, entry)
		return true
	})
	return out
}

// Difference returns the entries of s that are not in other.
func (s CompressedState) Difference(other CompressedState) CompressedState {
	result := NewCompressedState()
	s.tree.Ascend(func(entry CompressedEvent) bool {
		if !other.Has(entry) {
			result.Insert(entry)
		}
		return true
	})
	return result
}

// Equal reports whether both sets hold exactly the same entries.
func (s CompressedState) Equal(other CompressedState) bool {
	if s.Len() != other.Len() {
		return false
	}
	equal := true
	s.tree.Ascend(func(entry CompressedEvent) bool {
		if !other.Has(entry) {
			equal = false
			return false
		}
		return true
	})
	return equal
}

// EncodeBlob serializes the set to its on-disk form: the entries'
// 16-byte tokens concatenated in sorted order, no framing. The record
// count is recoverable as len(blob)/EntrySize.
func (s CompressedState) EncodeBlob() []byte {
	blob := make([]byte, 0, s.Len()*EntrySize)
	s.tree.Ascend(func(entry CompressedEvent) bool {
		blob = append(blob, entry[:]...)
		return true
	})
	return blob
}

// DecodeStateBlob parses an on-disk blob back into a snapshot set. A
// blob whose length is not a multiple of EntrySize is a data-integrity
// fault in the backing store, not a recoverable input.
func DecodeStateBlob(blob []byte) (CompressedState, error) {
	if len(blob)%EntrySize != 0 {
		return CompressedState{}, fmt.Errorf("state: blob length %d is not a multiple of %d", len(blob), EntrySize)
	}
	set := NewCompressedState()
	for offset := 0; offset < len(blob); offset += EntrySize {
		var entry CompressedEvent
		copy(entry[:], blob[offset:offset+EntrySize])
		set.Insert(entry)
	}
	return set, nil
}
