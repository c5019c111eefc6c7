// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/roomstate/lib/state"
)

// frameLayer is one link of a frame's parent chain as collected by the
// chain walk, nearest frame first.
type frameLayer struct {
	frameID int64
	diff    state.StateDiff
}

// walkChain follows parent pointers from frameID to a root layer,
// returning the chain nearest-first. A parent pointer that resolves to
// no stored frame surfaces as ErrMissingAncestor.
//
// With useCache set and a snapshot cache present, the walk stops early
// at the first ancestor with a cached full snapshot and returns that
// snapshot as the base; otherwise base is an empty set and the chain
// reaches a root frame. LoadFrameInfo must walk the full chain: a
// truncated stack would let the compressor fold a diff past the cached
// ancestor and persist it as a root frame.
func (s *Store) walkChain(ctx context.Context, frameID int64, useCache bool) (chain []frameLayer, base state.CompressedState, err error) {
	conn, err := s.take(ctx, "walk frame chain")
	if err != nil {
		return nil, state.CompressedState{}, err
	}
	defer s.pool.Put(conn)

	base = state.NewCompressedState()
	id := frameID
	for {
		if useCache && s.cache != nil && id != frameID {
			if snapshot, ok := s.cache.Get(id); ok {
				return chain, snapshot, nil
			}
		}

		diff, err := loadStateDiff(conn, id)
		if err != nil {
			if id != frameID && errors.Is(err, ErrFrameNotFound) {
				return nil, state.CompressedState{}, fmt.Errorf("frame %d references parent %d: %w", frameID, id, ErrMissingAncestor)
			}
			return nil, state.CompressedState{}, err
		}
		chain = append(chain, frameLayer{frameID: id, diff: diff})

		if diff.ParentID == nil {
			return chain, base, nil
		}
		id = *diff.ParentID
	}
}

// applyDiff folds one layer into an accumulated snapshot: disposed
// entries are removed first, then appended entries inserted. The input
// snapshot is cloned, not mutated.
func applyDiff(snapshot state.CompressedState, diff state.StateDiff) state.CompressedState {
	next := snapshot.Clone()
	diff.Disposed.Ascend(func(entry state.CompressedEvent) bool {
		next.Remove(entry)
		return true
	})
	diff.Appended.Ascend(func(entry state.CompressedEvent) bool {
		next.Insert(entry)
		return true
	})
	return next
}

// LoadFrameInfo loads a frame's full ancestor chain as an ordered
// stack, root first, nearest frame last. Each layer carries its own
// diff against its parent plus the cumulative full snapshot at that
// layer. This is the input CalcAndSaveStateDelta needs when the next
// event's frame is attached below frameID.
func (s *Store) LoadFrameInfo(ctx context.Context, frameID int64) ([]state.FrameInfo, error) {
	chain, _, err := s.walkChain(ctx, frameID, false)
	if err != nil {
		return nil, err
	}

	stack := make([]state.FrameInfo, 0, len(chain))
	full := state.NewCompressedState()
	for i := len(chain) - 1; i >= 0; i-- {
		layer := chain[i]
		full = applyDiff(full, layer.diff)
		stack = append(stack, state.FrameInfo{
			FrameID:   layer.frameID,
			FullState: full,
			Appended:  layer.diff.Appended,
			Disposed:  layer.diff.Disposed,
		})
	}
	return stack, nil
}

// FullState reconstructs the complete state snapshot at a frame by
// folding its ancestor chain root-first: at each layer disposed
// entries are removed, then appended entries inserted. Consults the
// injected cache first and populates it after a rebuild.
//
// The returned set is shared with the cache; callers must Clone before
// mutating.
func (s *Store) FullState(ctx context.Context, frameID int64) (state.CompressedState, error) {
	if s.cache != nil {
		if snapshot, ok := s.cache.Get(frameID); ok {
			return snapshot, nil
		}
	}

	chain, base, err := s.walkChain(ctx, frameID, true)
	if err != nil {
		return state.CompressedState{}, err
	}

	full := base
	for i := len(chain) - 1; i >= 0; i-- {
		full = applyDiff(full, chain[i].diff)
	}

	if s.cache != nil {
		s.cache.Put(frameID, full)
	}
	return full, nil
}

// FullStateIDs reconstructs the state at a frame as a field id → event
// sequence number mapping. The engine does not forbid two entries for
// the same field coexisting in one snapshot set, so the projection to
// a map applies a deterministic tie-break: the entry applied by the
// latest layer wins, and within a single layer the larger sequence
// number wins. A disposal only clears a field if it disposes the exact
// entry currently occupying it.
func (s *Store) FullStateIDs(ctx context.Context, frameID int64) (map[int64]int64, error) {
	chain, base, err := s.walkChain(ctx, frameID, true)
	if err != nil {
		return nil, err
	}

	fields := make(map[int64]int64)
	base.Ascend(func(entry state.CompressedEvent) bool {
		fields[entry.FieldID()] = entry.EventSN()
		return true
	})

	for i := len(chain) - 1; i >= 0; i-- {
		diff := chain[i].diff
		diff.Disposed.Ascend(func(entry state.CompressedEvent) bool {
			if sn, ok := fields[entry.FieldID()]; ok && sn == entry.EventSN() {
				delete(fields, entry.FieldID())
			}
			return true
		})
		// Ascending byte order puts larger sequence numbers for the
		// same field later, so the last write per field is the winner.
		diff.Appended.Ascend(func(entry state.CompressedEvent) bool {
			fields[entry.FieldID()] = entry.EventSN()
			return true
		})
	}
	return fields, nil
}
