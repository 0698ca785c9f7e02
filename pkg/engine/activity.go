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
	"sync"
	"time"
)

const (
	historyLimit     = 500
	activityThrottle = 150 * time.Millisecond
)

// ActivityKind labels one HistoryEntry for the dashboard.
type ActivityKind string

const (
	ActivityUploaded ActivityKind = "uploaded"
	ActivityDeleted  ActivityKind = "deleted"
	ActivityPending  ActivityKind = "pending"
	ActivityError    ActivityKind = "error"
)

// HistoryEntry is one row of the client's visible sync history.
type HistoryEntry struct {
	Kind    ActivityKind
	Path    string
	Detail  string
	At      time.Time
}

// ActivityLog is a bounded, subscribable history of sync events. Subscriber
// notifications are throttled so a bulk sync doesn't saturate the dashboard.
type ActivityLog struct {
	mu      sync.Mutex
	entries []HistoryEntry

	subMu       sync.Mutex
	subscribers []chan struct{}
	lastNotify  time.Time
}

// NewActivityLog returns an empty log.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{}
}

// Record appends entry, trimming to historyLimit, and notifies subscribers
// (at most once per activityThrottle).
func (l *ActivityLog) Record(entry HistoryEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > historyLimit {
		l.entries = l.entries[len(l.entries)-historyLimit:]
	}
	l.mu.Unlock()

	l.notify()
}

// Recent returns a copy of the most recent entries, oldest first.
func (l *ActivityLog) Recent() []HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]HistoryEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Subscribe returns a channel that receives a signal on every throttled
// update. The channel is buffered by one; slow subscribers miss
// coalesced ticks rather than blocking Record.
func (l *ActivityLog) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	l.subMu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.subMu.Unlock()
	return ch
}

func (l *ActivityLog) notify() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if time.Since(l.lastNotify) < activityThrottle {
		return
	}
	l.lastNotify = time.Now()
	for _, ch := range l.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
