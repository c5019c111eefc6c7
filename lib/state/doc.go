// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package state holds the in-memory representation of compressed room
// state: the fixed-width entry token, the ordered snapshot set, and the
// diff-fold arithmetic used by the frame compressor.
//
// A room's state at any point in its event history is a set of
// [CompressedEvent] tokens, each pairing a stable field identifier (one
// per unique event type + state key) with the sequence number of the
// event currently occupying that field. Snapshots are not stored whole:
// each persisted frame records only what its snapshot appended to and
// disposed from an ancestor frame, and full snapshots are rebuilt by
// folding a frame's ancestor chain. The types here are pure in-memory
// values; durable storage lives in package framestore.
package state
