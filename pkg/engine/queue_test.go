// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChangeQueuePushSupersedesSamePath(t *testing.T) {
	q := NewChangeQueue()
	q.Push(QueuedChange{Kind: ChangeModify, Path: "a.md"})
	q.Push(QueuedChange{Kind: ChangeDelete, Path: "a.md"})

	require.Equal(t, 1, q.Len())
	changes := q.Drain()
	require.Len(t, changes, 1)
	require.Equal(t, ChangeDelete, changes[0].Kind)
}

func TestChangeQueueRenameDropsOldPath(t *testing.T) {
	q := NewChangeQueue()
	q.Push(QueuedChange{Kind: ChangeModify, Path: "old.md"})
	q.Push(QueuedChange{Kind: ChangeRename, Path: "new.md", OldPath: "old.md"})

	require.Equal(t, 1, q.Len())
	changes := q.Drain()
	require.Len(t, changes, 1)
	require.Equal(t, "new.md", changes[0].Path)
}

func TestChangeQueuePreservesInsertionOrder(t *testing.T) {
	q := NewChangeQueue()
	q.Push(QueuedChange{Kind: ChangeCreate, Path: "first.md"})
	q.Push(QueuedChange{Kind: ChangeCreate, Path: "second.md"})
	q.Push(QueuedChange{Kind: ChangeModify, Path: "first.md"})

	changes := q.Drain()
	require.Len(t, changes, 2)
	require.Equal(t, "first.md", changes[0].Path)
	require.Equal(t, ChangeModify, changes[0].Kind, "later event for the same path replaces in place")
	require.Equal(t, "second.md", changes[1].Path)
}

func TestChangeQueueDrainEmptiesTheQueue(t *testing.T) {
	q := NewChangeQueue()
	q.Push(QueuedChange{Kind: ChangeCreate, Path: "a.md"})
	_ = q.Drain()

	require.Equal(t, 0, q.Len())
	require.Empty(t, q.Drain())
}

func TestChangeQueueRequeueSkipsPathsTouchedSinceDrain(t *testing.T) {
	q := NewChangeQueue()
	q.Push(QueuedChange{Kind: ChangeModify, Path: "a.md"})
	q.Push(QueuedChange{Kind: ChangeModify, Path: "b.md"})
	drained := q.Drain()

	// A new local edit to a.md arrives while the drained batch is still
	// being applied elsewhere.
	q.Push(QueuedChange{Kind: ChangeDelete, Path: "a.md"})
	q.Requeue(drained)

	require.Equal(t, 2, q.Len())
	remaining := q.Drain()
	byPath := make(map[string]QueuedChange, len(remaining))
	for _, c := range remaining {
		byPath[c.Path] = c
	}
	require.Equal(t, ChangeDelete, byPath["a.md"].Kind, "the newer event wins over the requeued stale one")
	require.Equal(t, ChangeModify, byPath["b.md"].Kind)
}
