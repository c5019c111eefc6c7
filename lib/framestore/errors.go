// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framestore

import "errors"

// Frame store failure classes. Everything else surfacing from this
// package is a storage error: a read or write failure against SQLite,
// wrapped with context and never retried internally. All errors bubble
// to the event-processing caller, which fails the whole admission
// operation for the room.
var (
	// ErrFrameNotFound is returned when a requested frame id has no
	// stored record.
	ErrFrameNotFound = errors.New("framestore: frame not found")

	// ErrMissingAncestor is returned when a frame's parent pointer
	// references a frame absent from storage. The chain is broken;
	// this is fatal and not recoverable at this layer.
	ErrMissingAncestor = errors.New("framestore: missing ancestor frame")

	// ErrCorruptRecord is returned when a stored blob fails integrity
	// checks: a length that is not a multiple of the entry size, a
	// checksum mismatch, or an entry whose event sequence number no
	// longer resolves to an event. Fatal; frame rows and the event
	// rows they reference are never legitimately deleted.
	ErrCorruptRecord = errors.New("framestore: corrupt record")
)
