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

import "sync"

// ChangeKind is the local-change queue's event kind, matching the watcher's
// vocabulary.
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota
	ChangeModify
	ChangeDelete
	ChangeRename
)

// QueuedChange is one entry in the offline local-change queue.
type QueuedChange struct {
	Kind    ChangeKind
	Path    string
	OldPath string
}

// ChangeQueue holds local edits accumulated while the engine isn't Idle.
// Later events for the same path replace earlier ones; a rename also drops
// any pending event still keyed on its old path, since the file no longer
// lives there.
type ChangeQueue struct {
	mu    sync.Mutex
	order []string
	byKey map[string]QueuedChange
}

// NewChangeQueue returns an empty queue.
func NewChangeQueue() *ChangeQueue {
	return &ChangeQueue{byKey: make(map[string]QueuedChange)}
}

// Push appends or supersedes an entry keyed by path.
func (q *ChangeQueue) Push(c QueuedChange) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if c.Kind == ChangeRename {
		q.dropLocked(c.OldPath)
	}
	if _, existed := q.byKey[c.Path]; !existed {
		q.order = append(q.order, c.Path)
	}
	q.byKey[c.Path] = c
}

func (q *ChangeQueue) dropLocked(path string) {
	if _, ok := q.byKey[path]; !ok {
		return
	}
	delete(q.byKey, path)
	for i, p := range q.order {
		if p == path {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of distinct pending paths.
func (q *ChangeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Drain removes and returns every pending change in insertion order. If the
// caller fails partway through applying them, Requeue puts the remainder
// back.
func (q *ChangeQueue) Drain() []QueuedChange {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueuedChange, 0, len(q.order))
	for _, path := range q.order {
		out = append(out, q.byKey[path])
	}
	q.order = nil
	q.byKey = make(map[string]QueuedChange)
	return out
}

// Requeue reinserts changes at the front of the queue, preserving their
// relative order, without disturbing any entries pushed since Drain.
func (q *ChangeQueue) Requeue(changes []QueuedChange) {
	q.mu.Lock()
	defer q.mu.Unlock()

	existingOrder := q.order
	existingByKey := q.byKey
	q.order = nil
	q.byKey = make(map[string]QueuedChange)

	for _, c := range changes {
		if _, ok := existingByKey[c.Path]; ok {
			continue // a newer event for this path already arrived
		}
		q.order = append(q.order, c.Path)
		q.byKey[c.Path] = c
	}
	for _, path := range existingOrder {
		if _, ok := q.byKey[path]; ok {
			continue
		}
		q.order = append(q.order, path)
		q.byKey[path] = existingByKey[path]
	}
}
