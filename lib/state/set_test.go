// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"testing"

	"github.com/bureau-foundation/roomstate/lib/state"
)

func entry(fieldID, eventSN int64) state.CompressedEvent {
	return state.NewCompressedEvent(fieldID, eventSN)
}

func TestSetInsertDeduplicates(t *testing.T) {
	set := state.NewCompressedState()
	set.Insert(entry(1, 10))
	set.Insert(entry(1, 10))
	set.Insert(entry(2, 20))

	if set.Len() != 2 {
		t.Errorf("Len() = %d, want 2", set.Len())
	}
	if !set.Has(entry(1, 10)) || !set.Has(entry(2, 20)) {
		t.Error("set is missing inserted entries")
	}
}

func TestSetRemoveReportsPresence(t *testing.T) {
	set := state.NewCompressedStateOf(entry(1, 10))
	if !set.Remove(entry(1, 10)) {
		t.Error("Remove of a present entry returned false")
	}
	if set.Remove(entry(1, 10)) {
		t.Error("Remove of an absent entry returned true")
	}
	if set.Len() != 0 {
		t.Errorf("Len() = %d after removal, want 0", set.Len())
	}
}

func TestSetEntriesSorted(t *testing.T) {
	set := state.NewCompressedStateOf(entry(3, 1), entry(1, 2), entry(2, 9), entry(1, 1))
	entries := set.Entries()
	for i := 1; i < len(entries); i++ {
		if !entries[i-1].Less(entries[i]) {
			t.Fatalf("entries[%d] %v does not sort before entries[%d] %v", i-1, entries[i-1], i, entries[i])
		}
	}
}

func TestSetCloneIsIndependent(t *testing.T) {
	original := state.NewCompressedStateOf(entry(1, 1), entry(2, 2))
	clone := original.Clone()

	clone.Insert(entry(3, 3))
	clone.Remove(entry(1, 1))

	if original.Len() != 2 {
		t.Errorf("original Len() = %d after mutating clone, want 2", original.Len())
	}
	if !original.Has(entry(1, 1)) {
		t.Error("removing from the clone removed from the original")
	}
	if original.Has(entry(3, 3)) {
		t.Error("inserting into the clone inserted into the original")
	}
	if clone.Len() != 2 || !clone.Has(entry(3, 3)) || clone.Has(entry(1, 1)) {
		t.Error("clone does not reflect its own mutations")
	}
}

func TestSetDifference(t *testing.T) {
	a := state.NewCompressedStateOf(entry(1, 1), entry(2, 2), entry(3, 3))
	b := state.NewCompressedStateOf(entry(2, 2))

	diff := a.Difference(b)
	if diff.Len() != 2 || !diff.Has(entry(1, 1)) || !diff.Has(entry(3, 3)) {
		t.Errorf("a \\ b = %v, want {(1,1), (3,3)}", diff.Entries())
	}
	if b.Difference(a).Len() != 0 {
		t.Error("b \\ a should be empty")
	}
}

func TestSetEqual(t *testing.T) {
	a := state.NewCompressedStateOf(entry(1, 1), entry(2, 2))
	b := state.NewCompressedStateOf(entry(2, 2), entry(1, 1))
	c := state.NewCompressedStateOf(entry(1, 1))

	if !a.Equal(b) {
		t.Error("sets with the same entries are not Equal")
	}
	if a.Equal(c) {
		t.Error("sets of different size are Equal")
	}
}

func TestBlobRoundTrip(t *testing.T) {
	set := state.NewCompressedStateOf(entry(5, 50), entry(-1, 7), entry(0, 0))

	blob := set.EncodeBlob()
	if len(blob) != set.Len()*state.EntrySize {
		t.Fatalf("blob length = %d, want %d", len(blob), set.Len()*state.EntrySize)
	}

	decoded, err := state.DecodeStateBlob(blob)
	if err != nil {
		t.Fatalf("DecodeStateBlob: %v", err)
	}
	if !decoded.Equal(set) {
		t.Errorf("decoded = %v, want %v", decoded.Entries(), set.Entries())
	}
}

func TestDecodeStateBlobRejectsBadLength(t *testing.T) {
	for _, length := range []int{1, 15, 17, 31} {
		if _, err := state.DecodeStateBlob(make([]byte, length)); err == nil {
			t.Errorf("DecodeStateBlob accepted a %d-byte blob", length)
		}
	}
	if _, err := state.DecodeStateBlob(nil); err != nil {
		t.Errorf("DecodeStateBlob rejected an empty blob: %v", err)
	}
}
