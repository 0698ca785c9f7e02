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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sage-x-project/sage/pkg/cryptoutil"
	"github.com/sage-x-project/sage/pkg/watcher"
)

// VaultAdapter is the filesystem boundary the engine reconciles against. A
// real implementation walks the on-disk vault; tests substitute an
// in-memory fake.
type VaultAdapter interface {
	// Walk visits every regular file under the vault root and the editor's
	// config subtree, vault-relative path using "/" separators.
	Walk(fn func(path string, mtime int64, size int64) error) error
	Read(path string) ([]byte, error)
	Write(path string, data []byte, mtime int64) error
	Remove(path string) error
	// Stat reports the current on-disk mtime for path, and false if the
	// path doesn't exist locally.
	Stat(path string) (mtime int64, ok bool)
}

// LocalVault is a VaultAdapter backed by the real filesystem rooted at Dir.
type LocalVault struct {
	Dir string
}

func (v *LocalVault) Walk(fn func(path string, mtime int64, size int64) error) error {
	return filepath.WalkDir(v.Dir, func(abs string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(v.Dir, abs)
		if relErr != nil {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		return fn(filepath.ToSlash(rel), info.ModTime().UnixMilli(), info.Size())
	})
}

func (v *LocalVault) Read(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(v.Dir, filepath.FromSlash(path)))
}

func (v *LocalVault) Write(path string, data []byte, mtime int64) error {
	abs := filepath.Join(v.Dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return err
	}
	t := time.UnixMilli(mtime)
	return os.Chtimes(abs, t, t)
}

func (v *LocalVault) Remove(path string) error {
	err := os.Remove(filepath.Join(v.Dir, filepath.FromSlash(path)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (v *LocalVault) Stat(path string) (int64, bool) {
	info, err := os.Stat(filepath.Join(v.Dir, filepath.FromSlash(path)))
	if err != nil {
		return 0, false
	}
	return info.ModTime().UnixMilli(), true
}

// ManifestEntry is one file known to the local vault, keyed by its
// deterministic file-ID in the caller's map.
type ManifestEntry struct {
	Path  string
	Mtime int64
	Size  int64
}

// yieldEvery matches the "manifest build must yield every ~50 files"
// responsiveness requirement; runtime.Gosched is the idiomatic stand-in
// for an explicit yield point in a cooperatively scheduled loop.
const yieldEvery = 50

// BuildManifest enumerates adapter, keeping only paths rules.Allowed
// accepts, and returns a map from derived file-ID to ManifestEntry.
func BuildManifest(adapter VaultAdapter, rules watcher.ExclusionRules, key *cryptoutil.Key) (map[string]ManifestEntry, error) {
	manifest := make(map[string]ManifestEntry)
	n := 0
	err := adapter.Walk(func(path string, mtime, size int64) error {
		n++
		if n%yieldEvery == 0 {
			runtime.Gosched()
		}
		if !rules.Allowed(path) {
			return nil
		}
		fileID := cryptoutil.DeriveFileID(path, key)
		manifest[fileID] = ManifestEntry{Path: path, Mtime: mtime, Size: size}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: build manifest: %w", err)
	}
	return manifest, nil
}

// FileMeta is the plaintext payload behind ChangeEntry.EncryptedMeta: the
// one piece of information the server must never see.
type FileMeta struct {
	Path string `json:"path"`
}
