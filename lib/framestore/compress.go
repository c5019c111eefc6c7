// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framestore

import (
	"context"

	"github.com/bureau-foundation/roomstate/lib/state"
)

// defaultDiffToSibling seeds the sibling growth hint when a fresh
// layer is started by SaveState. The hint approximates how much a diff
// at the candidate's layer grows per save; for a brand-new layer there
// is no history, so the seed mirrors the fixed hint used upstream.
const defaultDiffToSibling = 2

// CalcAndSaveStateDelta decides where in the diff forest a new
// snapshot attaches and persists the resulting frame.
//
// The candidate diff (appended, disposed) is expressed relative to the
// nearest ancestor on the stack; ancestors is ordered root first,
// nearest parent last, each layer carrying its own diff relative to
// ITS parent. diffToSibling approximates the per-save diff growth at
// the candidate's layer.
//
// The decision loop, per iteration:
//
//   - Depth guard: while more than MaxPendingAncestors layers remain,
//     fold the candidate into the nearest one unconditionally. This
//     bounds the layers a single save inspects regardless of room
//     history length.
//   - No ancestors left: persist as a root frame (nil parent) with the
//     candidate as-is.
//   - Exactly one candidate parent: if ShouldFold says the diff is
//     disproportionately large, fold and keep going one level deeper;
//     otherwise attach directly as a child of that ancestor.
//
// The ancestor stack is consumed iteratively rather than by recursion
// so that a deep caller-supplied stack cannot grow the goroutine
// stack. Storage errors propagate unmodified; nothing is retried here.
func (s *Store) CalcAndSaveStateDelta(ctx context.Context, roomID string, frameID int64, appended, disposed state.CompressedState, diffToSibling int, ancestors []state.FrameInfo) error {
	folds := 0
	for {
		diffSum := appended.Len() + disposed.Len()

		if len(ancestors) > state.MaxPendingAncestors {
			parent := ancestors[len(ancestors)-1]
			ancestors = ancestors[:len(ancestors)-1]
			appended, disposed = state.FoldDiff(appended, disposed, parent.Appended, parent.Disposed)
			diffToSibling = diffSum
			folds++
			continue
		}

		if len(ancestors) == 0 {
			if folds > 0 {
				s.logger.Debug("diff folded to root layer",
					"room_id", roomID,
					"frame_id", frameID,
					"folds", folds,
				)
			}
			return s.SaveStateDelta(ctx, roomID, frameID, state.StateDiff{
				ParentID: nil,
				Appended: appended,
				Disposed: disposed,
			})
		}

		parent := ancestors[len(ancestors)-1]
		ancestors = ancestors[:len(ancestors)-1]

		if state.ShouldFold(diffSum, diffToSibling, parent.DiffSum()) {
			appended, disposed = state.FoldDiff(appended, disposed, parent.Appended, parent.Disposed)
			diffToSibling = diffSum
			folds++
			continue
		}

		parentID := parent.FrameID
		return s.SaveStateDelta(ctx, roomID, frameID, state.StateDiff{
			ParentID: &parentID,
			Appended: appended,
			Disposed: disposed,
		})
	}
}

// SaveState persists a full snapshot as a frame, computing the diff
// against the parent frame's reconstructed state and delegating the
// attachment decision to CalcAndSaveStateDelta. A nil parentFrameID
// stores the snapshot as a new root layer.
//
// This is the convenience entry point for callers that hold a complete
// resolved state mapping (room joins over federation, forced state
// resets) rather than a precomputed delta.
func (s *Store) SaveState(ctx context.Context, roomID string, frameID int64, parentFrameID *int64, snapshot state.CompressedState) error {
	if parentFrameID == nil {
		return s.SaveStateDelta(ctx, roomID, frameID, state.StateDiff{
			ParentID: nil,
			Appended: snapshot,
			Disposed: state.NewCompressedState(),
		})
	}

	ancestors, err := s.LoadFrameInfo(ctx, *parentFrameID)
	if err != nil {
		return err
	}
	parentState := ancestors[len(ancestors)-1].FullState

	appended := snapshot.Difference(parentState)
	disposed := parentState.Difference(snapshot)

	return s.CalcAndSaveStateDelta(ctx, roomID, frameID, appended, disposed, defaultDiffToSibling, ancestors)
}
