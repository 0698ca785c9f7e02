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
	"path"
	"strings"
)

// SelfFiles are the sync plugin's own bookkeeping files, never synced
// regardless of any toggle.
var SelfFiles = []string{".sync-state.json", ".sync-lock"}

// ExclusionRules gates both the watcher's emitted changes and the engine's
// manifest build and ingress filtering. ConfigDir is the vault-relative
// root of the editor's config subtree (e.g. ".obsidian");
// PluginsDir is ConfigDir's plugins subdirectory.
type ExclusionRules struct {
	ConfigDir  string
	PluginsDir string

	WorkspaceEnabled    bool
	PluginsEnabled      bool
	SettingsEnabled     bool
	AllFileTypesEnabled bool

	// Globs are user patterns matched against the vault-relative path.
	// "*" matches within one path segment, "**" matches across segments.
	Globs []string
}

// Allowed reports whether path should be synced under these rules. path is
// vault-relative, using "/" separators.
func (r ExclusionRules) Allowed(p string) bool {
	for _, self := range SelfFiles {
		if p == self {
			return false
		}
	}

	if !r.WorkspaceEnabled && r.isWorkspaceFile(p) {
		return false
	}

	inConfig := r.InConfigSubtree(p)
	if inConfig {
		if r.InPluginsSubtree(p) {
			if !r.PluginsEnabled {
				return false
			}
		} else if !r.SettingsEnabled {
			return false
		}
	} else {
		if !r.AllFileTypesEnabled && !strings.HasSuffix(p, ".md") {
			return false
		}
	}

	for _, g := range r.Globs {
		if matchGlob(g, p) {
			return false
		}
	}
	return true
}

// InConfigSubtree reports whether p lies inside the editor's config
// subtree.
func (r ExclusionRules) InConfigSubtree(p string) bool {
	if r.ConfigDir == "" {
		return false
	}
	return p == r.ConfigDir || strings.HasPrefix(p, r.ConfigDir+"/")
}

// InPluginsSubtree reports whether p lies inside the config subtree's
// plugins directory.
func (r ExclusionRules) InPluginsSubtree(p string) bool {
	if r.PluginsDir == "" {
		return false
	}
	return p == r.PluginsDir || strings.HasPrefix(p, r.PluginsDir+"/")
}

// isWorkspaceFile matches the editor's per-workspace layout files, which
// live at the config subtree root and change on every window resize —
// excluded by default to avoid sync churn unrelated to content.
func (r ExclusionRules) isWorkspaceFile(p string) bool {
	base := path.Base(p)
	return base == "workspace.json" || base == "workspace-mobile.json"
}

// matchGlob supports "*" (any run of characters within one path segment)
// and "**" (any run of characters across segments), applied against the
// full vault-relative path.
func matchGlob(pattern, p string) bool {
	return globMatch(strings.Split(pattern, "/"), strings.Split(p, "/"))
}

func globMatch(patternSegs, pathSegs []string) bool {
	if len(patternSegs) == 0 {
		return len(pathSegs) == 0
	}
	seg := patternSegs[0]
	if seg == "**" {
		if globMatch(patternSegs[1:], pathSegs) {
			return true
		}
		if len(pathSegs) == 0 {
			return false
		}
		return globMatch(patternSegs, pathSegs[1:])
	}
	if len(pathSegs) == 0 {
		return false
	}
	if !segmentMatch(seg, pathSegs[0]) {
		return false
	}
	return globMatch(patternSegs[1:], pathSegs[1:])
}

func segmentMatch(pattern, segment string) bool {
	ok, err := path.Match(pattern, segment)
	return err == nil && ok
}
