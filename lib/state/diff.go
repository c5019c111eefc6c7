// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

// StateDiff is one persisted frame's payload: the entries its snapshot
// appended to and disposed from the parent frame's snapshot. A nil
// ParentID marks a root layer, whose Appended is the full state and
// whose Disposed is empty by construction.
type StateDiff struct {
	ParentID *int64
	Appended CompressedState
	Disposed CompressedState
}

// FrameInfo is one layer of a frame's ancestor chain as loaded for the
// diff compressor: the layer's own diff against ITS parent, plus the
// cumulative full state at that layer. Stacks are ordered root first,
// nearest parent last.
type FrameInfo struct {
	FrameID   int64
	FullState CompressedState
	Appended  CompressedState
	Disposed  CompressedState
}

// DiffSum returns the layer's diff size, the cost measure used by the
// fold trigger.
func (f FrameInfo) DiffSum() int {
	return f.Appended.Len() + f.Disposed.Len()
}

// MaxPendingAncestors bounds how many ancestor layers a single persist
// operation will inspect before folding unconditionally. With the fold
// trigger below this caps both the depth of any diff chain and the work
// per save, independent of total room history.
const MaxPendingAncestors = 3

// ShouldFold reports whether a candidate diff is disproportionately
// large relative to its prospective parent layer and should be folded
// into it rather than attached as a child. diffSum is the candidate's
// size, diffToSibling approximates how much a diff at this layer grows
// per save, and parentDiff is the nearest remaining ancestor's size.
//
// Attaching every diff directly keeps saves cheap but lets
// reconstruction cost grow with room lifetime; folding
// size-proportionally keeps each layer's reconstruction cost bounded by
// recent activity at the price of occasionally rewriting a diff as a
// larger one rooted further back.
func ShouldFold(diffSum, diffToSibling, parentDiff int) bool {
	return diffSum*diffSum >= 2*diffToSibling*parentDiff
}

// FoldDiff reconciles a candidate diff against a deeper ancestor layer,
// producing the candidate's diff relative to the ancestor's own parent.
// The ancestor's sets are cloned, never mutated.
//
// Cancellation is strict: a candidate disposal of an entry the ancestor
// appended erases the append (added then removed nets to nothing one
// level up), and a candidate append of an entry the ancestor disposed
// erases the disposal. An entry can never appear in both merged sets.
func FoldDiff(appended, disposed, parentAppended, parentDisposed CompressedState) (CompressedState, CompressedState) {
	mergedAppended := parentAppended.Clone()
	mergedDisposed := parentDisposed.Clone()

	disposed.Ascend(func(entry CompressedEvent) bool {
		if !mergedAppended.Remove(entry) {
			mergedDisposed.Insert(entry)
		}
		return true
	})

	appended.Ascend(func(entry CompressedEvent) bool {
		if !mergedDisposed.Remove(entry) {
			mergedAppended.Insert(entry)
		}
		return true
	})

	return mergedAppended, mergedDisposed
}
