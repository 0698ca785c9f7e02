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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage/pkg/watcher"
)

func writeVaultFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestLocalVaultReadWriteRemoveRoundTrip(t *testing.T) {
	vault := &LocalVault{Dir: t.TempDir()}
	mtime := time.Now().Truncate(time.Second).UnixMilli()

	require.NoError(t, vault.Write("notes/a.md", []byte("hello"), mtime))

	data, err := vault.Read("notes/a.md")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, vault.Remove("notes/a.md"))
	_, err = vault.Read("notes/a.md")
	require.Error(t, err)
}

func TestLocalVaultRemoveMissingFileIsNotAnError(t *testing.T) {
	vault := &LocalVault{Dir: t.TempDir()}
	require.NoError(t, vault.Remove("never-existed.md"))
}

func TestBuildManifestExcludesDisallowedPaths(t *testing.T) {
	dir := t.TempDir()
	writeVaultFile(t, dir, "notes/a.md", "a")
	writeVaultFile(t, dir, "attachments/photo.png", "binary")
	writeVaultFile(t, dir, ".obsidian/appearance.json", "{}")

	vault := &LocalVault{Dir: dir}
	rules := watcher.ExclusionRules{ConfigDir: ".obsidian", PluginsDir: ".obsidian/plugins"}
	key := testReconcileKey(t)

	manifest, err := BuildManifest(vault, rules, key)
	require.NoError(t, err)

	paths := make(map[string]bool, len(manifest))
	for _, entry := range manifest {
		paths[entry.Path] = true
	}
	require.True(t, paths["notes/a.md"])
	require.False(t, paths["attachments/photo.png"], "non-markdown excluded by default")
	require.False(t, paths[".obsidian/appearance.json"], "settings sync disabled by default")
}

func TestBuildManifestFileIDIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeVaultFile(t, dir, "notes/a.md", "a")

	vault := &LocalVault{Dir: dir}
	rules := watcher.ExclusionRules{ConfigDir: ".obsidian", PluginsDir: ".obsidian/plugins"}
	key := testReconcileKey(t)

	first, err := BuildManifest(vault, rules, key)
	require.NoError(t, err)
	second, err := BuildManifest(vault, rules, key)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
