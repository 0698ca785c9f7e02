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
	"testing"

	"github.com/stretchr/testify/require"
)

func baseRules() ExclusionRules {
	return ExclusionRules{
		ConfigDir:  ".obsidian",
		PluginsDir: ".obsidian/plugins",
	}
}

func TestAllowedSelfFilesAlwaysExcluded(t *testing.T) {
	r := baseRules()
	r.WorkspaceEnabled = true
	r.PluginsEnabled = true
	r.SettingsEnabled = true
	r.AllFileTypesEnabled = true

	require.False(t, r.Allowed(".sync-state.json"))
	require.False(t, r.Allowed(".sync-lock"))
}

func TestAllowedConfigSubtreeToggles(t *testing.T) {
	r := baseRules()

	require.False(t, r.Allowed(".obsidian/appearance.json"), "settings off by default")
	require.False(t, r.Allowed(".obsidian/plugins/foo/main.js"), "plugins off by default")

	r.SettingsEnabled = true
	require.True(t, r.Allowed(".obsidian/appearance.json"))
	require.False(t, r.Allowed(".obsidian/plugins/foo/main.js"), "plugins gate is separate from settings")

	r.PluginsEnabled = true
	require.True(t, r.Allowed(".obsidian/plugins/foo/main.js"))
}

func TestAllowedWorkspaceFiles(t *testing.T) {
	r := baseRules()
	r.SettingsEnabled = true

	require.False(t, r.Allowed(".obsidian/workspace.json"))
	require.False(t, r.Allowed(".obsidian/workspace-mobile.json"))

	r.WorkspaceEnabled = true
	require.True(t, r.Allowed(".obsidian/workspace.json"))
}

func TestAllowedNonMarkdownOutsideConfig(t *testing.T) {
	r := baseRules()

	require.True(t, r.Allowed("notes/todo.md"))
	require.False(t, r.Allowed("attachments/photo.png"))

	r.AllFileTypesEnabled = true
	require.True(t, r.Allowed("attachments/photo.png"))
}

func TestAllowedGlobPatterns(t *testing.T) {
	r := baseRules()
	r.Globs = []string{"drafts/*.md", "**/archive/**"}

	require.False(t, r.Allowed("drafts/idea.md"))
	require.True(t, r.Allowed("drafts/sub/idea.md"), "single star does not cross segments")
	require.False(t, r.Allowed("notes/archive/old.md"))
	require.False(t, r.Allowed("archive/old.md"))
}

func TestMatchGlobDoubleStarAtBoundaries(t *testing.T) {
	require.True(t, matchGlob("**/*.tmp", "a/b/c.tmp"))
	require.True(t, matchGlob("**/*.tmp", "c.tmp"))
	require.False(t, matchGlob("**/*.tmp", "c.md"))
}
