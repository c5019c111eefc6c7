// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statecache provides the standard snapshot cache injected
// into a frame store: a bounded LRU of reconstructed full-state
// snapshots keyed by frame id.
//
// Entries are held in their flat blob form compressed with zstd.
// Large-room snapshots are tens of thousands of 16-byte tokens with
// heavily shared prefixes (runs of the same field id range), which
// zstd at its default level shrinks several-fold, so a hot cache of
// big rooms costs a fraction of the uncompressed footprint. Frames are
// immutable, so entries never go stale and there is no invalidation
// path.
//
// The cache is explicitly constructed and injected (never a process
// global) so the engine stays testable in isolation.
package statecache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/roomstate/lib/state"
)

// DefaultMaxEntries is the cache capacity used when a caller passes a
// non-positive size.
const DefaultMaxEntries = 1024

// Cache is a thread-safe LRU of zstd-compressed snapshot blobs. It
// implements the frame store's SnapshotCache interface.
type Cache struct {
	entries *lru.Cache[int64, []byte]
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New returns a cache bounded to maxEntries snapshots. If maxEntries
// is zero or negative, DefaultMaxEntries is used.
func New(maxEntries int) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[int64, []byte](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("statecache: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("statecache: creating encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("statecache: creating decoder: %w", err)
	}
	return &Cache{
		entries: entries,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Get returns the cached snapshot for a frame id, if present.
func (c *Cache) Get(frameID int64) (state.CompressedState, bool) {
	compressed, ok := c.entries.Get(frameID)
	if !ok {
		return state.CompressedState{}, false
	}
	blob, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		// A cache entry that no longer decompresses is dropped and
		// treated as a miss; the store rebuilds from frames.
		c.entries.Remove(frameID)
		return state.CompressedState{}, false
	}
	snapshot, err := state.DecodeStateBlob(blob)
	if err != nil {
		c.entries.Remove(frameID)
		return state.CompressedState{}, false
	}
	return snapshot, true
}

// Put stores a snapshot for a frame id, evicting the least recently
// used entry when the cache is full.
func (c *Cache) Put(frameID int64, snapshot state.CompressedState) {
	blob := snapshot.EncodeBlob()
	c.entries.Add(frameID, c.encoder.EncodeAll(blob, make([]byte, 0, len(blob)/4)))
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.entries.Purge()
}
