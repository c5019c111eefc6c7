// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"math"
	"testing"

	"github.com/bureau-foundation/roomstate/lib/state"
)

func TestEntryRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 42, math.MinInt64, math.MaxInt64}
	for _, fieldID := range values {
		for _, eventSN := range values {
			entry := state.NewCompressedEvent(fieldID, eventSN)
			if got := entry.FieldID(); got != fieldID {
				t.Errorf("FieldID() = %d, want %d", got, fieldID)
			}
			if got := entry.EventSN(); got != eventSN {
				t.Errorf("EventSN() = %d, want %d", got, eventSN)
			}
		}
	}
}

func TestParseCompressedEvent(t *testing.T) {
	entry := state.NewCompressedEvent(7, 99)
	parsed, err := state.ParseCompressedEvent(entry.Bytes())
	if err != nil {
		t.Fatalf("ParseCompressedEvent: %v", err)
	}
	if parsed != entry {
		t.Errorf("parsed = %v, want %v", parsed, entry)
	}

	for _, length := range []int{0, 1, 15, 17, 32} {
		if _, err := state.ParseCompressedEvent(make([]byte, length)); err == nil {
			t.Errorf("ParseCompressedEvent accepted %d bytes", length)
		}
	}
}

func TestEntryOrdering(t *testing.T) {
	// Byte-wise ordering follows (field id, event sn) for non-negative
	// values.
	a := state.NewCompressedEvent(1, 100)
	b := state.NewCompressedEvent(1, 200)
	c := state.NewCompressedEvent(2, 1)

	if !a.Less(b) {
		t.Error("entry (1, 100) should sort before (1, 200)")
	}
	if !b.Less(c) {
		t.Error("entry (1, 200) should sort before (2, 1)")
	}
	if a.Less(a) {
		t.Error("an entry must not sort before itself")
	}
}

func TestEntryBytesIsACopy(t *testing.T) {
	entry := state.NewCompressedEvent(3, 4)
	raw := entry.Bytes()
	raw[0] = 0xff
	if entry.FieldID() != 3 {
		t.Error("mutating Bytes() result changed the entry")
	}
}
