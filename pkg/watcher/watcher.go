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

// Package watcher emits debounced change events for a vault directory tree,
// merging a real filesystem-event source with a slow poll of the editor's
// configuration subtree (which doesn't reliably emit events on every
// platform), and tracks a non-one-shot suppression set so the engine's own
// writes are never observed as user edits.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sage-x-project/sage/internal/logger"
)

const (
	debounce     = 300 * time.Millisecond
	adapterPoll  = 5 * time.Second
	suppressWait = 1 * time.Second
)

// ChangeType identifies the kind of vault event delivered on Watcher.Events.
type ChangeType int

const (
	Create ChangeType = iota
	Modify
	Delete
	Rename
)

// Change is a single debounced vault event, vault-relative path using "/"
// separators. OldPath is only set for Rename.
type Change struct {
	Type    ChangeType
	Path    string
	OldPath string
}

// Watcher watches root for changes, applying rules to every candidate path
// before it reaches the Events channel.
type Watcher struct {
	root  string
	rules ExclusionRules

	fs *fsnotify.Watcher

	mu         sync.Mutex
	suppressed map[string]*time.Timer
	pending    map[string]*time.Timer
	adapterMT  map[string]time.Time
	baselined  bool

	Events chan Change

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Watcher rooted at root. Call Start to begin emitting.
func New(root string, rules ExclusionRules) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:       root,
		rules:      rules,
		fs:         fsw,
		suppressed: make(map[string]*time.Timer),
		pending:    make(map[string]*time.Timer),
		adapterMT:  make(map[string]time.Time),
		Events:     make(chan Change, 64),
		stopCh:     make(chan struct{}),
	}
	return w, nil
}

// Start begins watching. fsnotify does not recurse, so every directory
// under root is registered individually; new directories are registered as
// they're created.
func (w *Watcher) Start() error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	go w.runFSLoop()
	go w.runAdapterLoop()
	return nil
}

// Stop ends both loops. Events is left open.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.fs.Close()
	})
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.fs.Add(path); addErr != nil {
				logger.Warn("watcher: add directory failed", logger.String("path", path), logger.Error(addErr))
			}
		}
		return nil
	})
}

func (w *Watcher) runFSLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher: fsnotify error", logger.Error(err))
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if ev.Op&fsnotify.Create != 0 && isDir {
		if addErr := w.fs.Add(ev.Name); addErr != nil {
			logger.Warn("watcher: add new directory failed", logger.String("path", ev.Name), logger.Error(addErr))
		}
		return
	}
	if isDir {
		return
	}

	rel := w.relPath(ev.Name)
	if rel == "" {
		return
	}

	var typ ChangeType
	switch {
	case ev.Op&fsnotify.Remove != 0:
		typ = Delete
	case ev.Op&fsnotify.Create != 0:
		typ = Create
	case ev.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		typ = Modify
	case ev.Op&fsnotify.Rename != 0:
		// fsnotify reports the source side of a rename as Rename and the
		// destination as a separate Create; treat the source as a delete
		// and let the paired Create carry the new path.
		typ = Delete
	default:
		return
	}

	w.emit(rel, typ, "")
}

func (w *Watcher) runAdapterLoop() {
	ticker := time.NewTicker(adapterPoll)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pollAdapter()
		}
	}
}

// pollAdapter scans the configuration subtree for files the primary fsnotify
// source may miss. The first poll only seeds the mtime cache: emitting
// creates on that pass would flood the engine with the vault's entire
// pre-existing config on startup.
func (w *Watcher) pollAdapter() {
	if w.rules.ConfigDir == "" {
		return
	}
	dir := filepath.Join(w.root, filepath.FromSlash(w.rules.ConfigDir))

	seen := make(map[string]bool)
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		rel := w.relPath(path)
		if rel == "" {
			return nil
		}
		seen[rel] = true
		w.observeAdapterFile(rel, info.ModTime())
		return nil
	})

	w.mu.Lock()
	first := !w.baselined
	w.baselined = true
	var deleted []string
	if !first {
		for rel := range w.adapterMT {
			if !seen[rel] && w.rules.InConfigSubtree(rel) {
				deleted = append(deleted, rel)
			}
		}
	}
	for _, rel := range deleted {
		delete(w.adapterMT, rel)
	}
	w.mu.Unlock()

	for _, rel := range deleted {
		w.emit(rel, Delete, "")
	}
}

func (w *Watcher) observeAdapterFile(rel string, mtime time.Time) {
	w.mu.Lock()
	prev, known := w.adapterMT[rel]
	w.adapterMT[rel] = mtime
	first := !w.baselined
	w.mu.Unlock()

	if first {
		return
	}
	if !known {
		w.emit(rel, Create, "")
		return
	}
	if mtime.After(prev) {
		w.emit(rel, Modify, "")
	}
}

// Suppress marks path so events observed within the next ~1s (the engine's
// write window) are dropped. Not one-shot: a single editor write can fire
// both a create and a modify for the same path, and both must be absorbed.
func (w *Watcher) Suppress(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.suppressed[path]; ok {
		t.Stop()
	}
	w.suppressed[path] = time.AfterFunc(suppressWait, func() {
		w.mu.Lock()
		delete(w.suppressed, path)
		w.mu.Unlock()
	})

	// Seed the adapter's mtime cache too, so a config-subtree write made
	// by the engine isn't picked up as a user edit on the next poll.
	abs := filepath.Join(w.root, filepath.FromSlash(path))
	if info, err := os.Stat(abs); err == nil {
		w.adapterMT[path] = info.ModTime()
	}
}

func (w *Watcher) isSuppressed(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.suppressed[path]
	return ok
}

// emit applies exclusion rules and debounce, then delivers on Events.
func (w *Watcher) emit(path string, typ ChangeType, oldPath string) {
	if w.isSuppressed(path) {
		return
	}
	if !w.rules.Allowed(path) {
		return
	}

	w.mu.Lock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case w.Events <- Change{Type: typ, Path: path, OldPath: oldPath}:
		case <-w.stopCh:
		}
	})
	w.mu.Unlock()
}

func (w *Watcher) relPath(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}
