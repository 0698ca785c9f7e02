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
	"encoding/json"
	"fmt"

	"github.com/sage-x-project/sage/pkg/cryptoutil"
	"github.com/sage-x-project/sage/pkg/protocol"
	"github.com/sage-x-project/sage/pkg/watcher"
)

// Plan is the reconciliation output: what to pull down, what to push up,
// and what to remove on each side. FileID is the key throughout; Downloads
// and ServerDeletes carry only a file-ID (the path is learned on download
// or was already known locally), Uploads and LocalDeletes carry the
// vault-relative path since that's what the filesystem needs.
type Plan struct {
	Downloads     []string
	Uploads       []string
	LocalDeletes  []string
	ServerDeletes []string
}

func encodeMeta(path string, key *cryptoutil.Key) (string, error) {
	raw, err := json.Marshal(FileMeta{Path: path})
	if err != nil {
		return "", err
	}
	return cryptoutil.EncryptMeta(raw, key)
}

func decodeMetaPath(encoded string, key *cryptoutil.Key) (string, error) {
	raw, err := cryptoutil.DecryptMeta(encoded, key)
	if err != nil {
		return "", err
	}
	var meta FileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf("engine: decode file meta: %w", err)
	}
	return meta.Path, nil
}

// Reconcile builds a Plan from the local manifest and a SyncResponse. A
// full-manifest response (resp.FullSync == true) is reconciled by strategy;
// an incremental one goes through the incremental path regardless of
// strategy.
func Reconcile(local map[string]ManifestEntry, resp protocol.SyncResponse, strategy Strategy, rules watcher.ExclusionRules, key *cryptoutil.Key) (*Plan, error) {
	if !resp.FullSync {
		return reconcileIncremental(local, resp, key)
	}

	switch strategy {
	case StrategyForcePull, StrategyPull:
		return reconcileForcePull(local, resp), nil
	case StrategyPush:
		return reconcilePush(local, resp), nil
	default:
		return reconcileMerge(local, resp, rules, key)
	}
}

func reconcileForcePull(local map[string]ManifestEntry, resp protocol.SyncResponse) *Plan {
	plan := &Plan{}
	onServer := make(map[string]bool, len(resp.Entries))
	for _, e := range resp.Entries {
		onServer[e.FileID] = true
		plan.Downloads = append(plan.Downloads, e.FileID)
	}
	for fileID, entry := range local {
		if !onServer[fileID] {
			plan.LocalDeletes = append(plan.LocalDeletes, entry.Path)
		}
	}
	return plan
}

func reconcilePush(local map[string]ManifestEntry, resp protocol.SyncResponse) *Plan {
	plan := &Plan{}
	onLocal := make(map[string]bool, len(local))
	for fileID, entry := range local {
		onLocal[fileID] = true
		plan.Uploads = append(plan.Uploads, entry.Path)
	}
	for _, e := range resp.Entries {
		if !onLocal[e.FileID] {
			plan.ServerDeletes = append(plan.ServerDeletes, e.FileID)
		}
	}
	return plan
}

func reconcileMerge(local map[string]ManifestEntry, resp protocol.SyncResponse, rules watcher.ExclusionRules, key *cryptoutil.Key) (*Plan, error) {
	plan := &Plan{}
	onServer := make(map[string]protocol.ChangeEntry, len(resp.Entries))
	for _, e := range resp.Entries {
		onServer[e.FileID] = e
	}

	for fileID, entry := range local {
		serverEntry, onBoth := onServer[fileID]
		inConfig := rules.InConfigSubtree(entry.Path)

		if onBoth {
			switch {
			case inConfig:
				// Server is canonical for configuration: a fresh install's
				// default settings must never overwrite another device's.
				plan.Downloads = append(plan.Downloads, fileID)
			case serverEntry.Mtime > entry.Mtime:
				plan.Downloads = append(plan.Downloads, fileID)
			case entry.Mtime > serverEntry.Mtime:
				plan.Uploads = append(plan.Uploads, entry.Path)
			}
			continue
		}

		if inConfig {
			// Only locally: a fresh device's default config must not be
			// pushed up over the server's canonical copy.
			continue
		}
		plan.Uploads = append(plan.Uploads, entry.Path)
	}

	for fileID, serverEntry := range onServer {
		if _, onBoth := local[fileID]; onBoth {
			continue
		}
		path, err := decodeMetaPath(serverEntry.EncryptedMeta, key)
		if err != nil {
			return nil, fmt.Errorf("engine: decode meta for %s: %w", fileID, err)
		}
		if !rules.InConfigSubtree(path) {
			plan.Downloads = append(plan.Downloads, fileID)
			continue
		}
		if configSyncEnabled(path, rules) && rules.Allowed(path) {
			plan.Downloads = append(plan.Downloads, fileID)
		}
	}

	return plan, nil
}

// configSyncEnabled reports whether the config-subtree toggle covering
// path is on. plugins and non-plugin settings gate independently.
func configSyncEnabled(path string, rules watcher.ExclusionRules) bool {
	if rules.InPluginsSubtree(path) {
		return rules.PluginsEnabled
	}
	return rules.SettingsEnabled
}

func reconcileIncremental(local map[string]ManifestEntry, resp protocol.SyncResponse, key *cryptoutil.Key) (*Plan, error) {
	plan := &Plan{}
	pathByFileID := make(map[string]string, len(local))
	for fileID, entry := range local {
		pathByFileID[fileID] = entry.Path
	}

	for _, e := range resp.Entries {
		if e.Deleted {
			if path, ok := pathByFileID[e.FileID]; ok {
				plan.LocalDeletes = append(plan.LocalDeletes, path)
			}
			continue
		}

		entry, ok := local[e.FileID]
		if !ok || e.Mtime >= entry.Mtime {
			plan.Downloads = append(plan.Downloads, e.FileID)
		}
	}
	return plan, nil
}
