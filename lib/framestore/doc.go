// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package framestore persists room-state snapshots as chains of
// incremental diffs in SQLite and rebuilds full snapshots on demand.
//
// Every state-changing event admitted to a room produces exactly one
// frame: an immutable, insert-only record holding a parent pointer and
// the entries the new snapshot appended to and disposed from the
// parent's snapshot. Frames form an append-only forest rooted at full
// state layers (nil parent). [Store.CalcAndSaveStateDelta] decides
// where in that forest a new snapshot attaches, folding
// disproportionately large diffs into deeper ancestors so that
// reconstruction cost stays bounded by recent activity rather than the
// room's whole lifetime. [Store.FullState] walks a frame's ancestor
// chain and folds the diffs back into a complete snapshot, consulting
// an injected cache first.
//
// The store also keeps the two side tables the entry tokens point
// into: the lazy, immutable field dictionary mapping (event type,
// state key) pairs to field ids, and the event-sequence index mapping
// sequence numbers back to event ids. Rows referenced by a frame are
// never deleted.
//
// Callers are responsible for room-level ordering: a per-room exclusive
// lock must be held across "admit event + create frame" so the ancestor
// chain observed during compression is fully durable and consistent.
package framestore
