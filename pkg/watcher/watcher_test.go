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

package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	root := t.TempDir()
	rules := ExclusionRules{AllFileTypesEnabled: true}
	w, err := New(root, rules)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	return w, root
}

func drainOne(t *testing.T, w *Watcher, timeout time.Duration) Change {
	t.Helper()
	select {
	case c := <-w.Events:
		return c
	case <-time.After(timeout):
		t.Fatal("timed out waiting for change event")
		return Change{}
	}
}

func TestWatcherEmitsCreateAndModify(t *testing.T) {
	w, root := newTestWatcher(t)

	path := filepath.Join(root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	c := drainOne(t, w, 2*time.Second)
	require.Equal(t, "note.md", c.Path)

	require.NoError(t, os.WriteFile(path, []byte("hello again"), 0o644))
	c = drainOne(t, w, 2*time.Second)
	require.Equal(t, "note.md", c.Path)
}

func TestWatcherDebouncesRapidWrites(t *testing.T) {
	w, root := newTestWatcher(t)

	path := filepath.Join(root, "note.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	c := drainOne(t, w, 2*time.Second)
	require.Equal(t, "note.md", c.Path)

	select {
	case extra := <-w.Events:
		t.Fatalf("expected rapid writes to collapse into one event, got extra %+v", extra)
	case <-time.After(debounce + 100*time.Millisecond):
	}
}

func TestWatcherSuppressionAbsorbsEngineWrites(t *testing.T) {
	w, root := newTestWatcher(t)

	path := filepath.Join(root, "note.md")
	w.Suppress("note.md")
	require.NoError(t, os.WriteFile(path, []byte("engine wrote this"), 0o644))

	select {
	case c := <-w.Events:
		t.Fatalf("expected suppressed write to be absorbed, got %+v", c)
	case <-time.After(debounce + 200*time.Millisecond):
	}
}

func TestWatcherExclusionAppliesBeforeEmit(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, ExclusionRules{})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(filepath.Join(root, "photo.png"), []byte("x"), 0o644))

	select {
	case c := <-w.Events:
		t.Fatalf("expected non-markdown file to stay excluded by default, got %+v", c)
	case <-time.After(debounce + 200*time.Millisecond):
	}
}
