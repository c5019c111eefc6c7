// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EntrySize is the encoded size of one state entry: two big-endian
// int64 values, field id followed by event sequence number. This is an
// on-disk format constant: frame blobs are flat concatenations of
// EntrySize-byte tokens with no length prefix, so changing it breaks
// every stored frame.
const EntrySize = 16

// CompressedEvent is one room-state entry in its wire form: the field
// identifier and the event sequence number, each as 8 big-endian bytes.
// Equality and ordering are byte-wise, which for big-endian encoding
// matches (field id, event sn) ordering for non-negative values.
type CompressedEvent [EntrySize]byte

// NewCompressedEvent encodes a field id and event sequence number into
// a single entry token.
func NewCompressedEvent(fieldID, eventSN int64) CompressedEvent {
	var entry CompressedEvent
	binary.BigEndian.PutUint64(entry[:8], uint64(fieldID))
	binary.BigEndian.PutUint64(entry[8:], uint64(eventSN))
	return entry
}

// ParseCompressedEvent decodes a single entry token from raw bytes.
// The input must be exactly EntrySize bytes.
func ParseCompressedEvent(raw []byte) (CompressedEvent, error) {
	var entry CompressedEvent
	if len(raw) != EntrySize {
		return entry, fmt.Errorf("state: entry must be %d bytes, got %d", EntrySize, len(raw))
	}
	copy(entry[:], raw)
	return entry, nil
}

// FieldID decodes the field identifier half of the token.
func (e CompressedEvent) FieldID() int64 {
	return int64(binary.BigEndian.Uint64(e[:8]))
}

// EventSN decodes the event sequence number half of the token.
func (e CompressedEvent) EventSN() int64 {
	return int64(binary.BigEndian.Uint64(e[8:]))
}

// Bytes returns the entry's wire form as a fresh slice.
func (e CompressedEvent) Bytes() []byte {
	out := make([]byte, EntrySize)
	copy(out, e[:])
	return out
}

// Less reports whether e sorts before other in byte-wise order. This is
// the ordering used by CompressedState and by frame blob encoding.
func (e CompressedEvent) Less(other CompressedEvent) bool {
	return bytes.Compare(e[:], other[:]) < 0
}

func (e CompressedEvent) String() string {
	return fmt.Sprintf("field %d @ sn %d", e.FieldID(), e.EventSN())
}
