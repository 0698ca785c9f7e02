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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/sage-x-project/sage/pkg/engine"
	"github.com/sage-x-project/sage/pkg/watcher"
)

// sharedFlags are accepted by every subcommand that opens an Engine.
var (
	flagServerURL  string
	flagVaultDir   string
	flagCredDir    string
	flagNoWatch    bool
	flagAllTypes   bool
	flagNoPlugins  bool
	flagNoSettings bool
)

// buildEngine assembles an Engine from the shared flags, defaulting the
// credentials directory to a ".syncctl" subdirectory of vaultDir so a vault
// carries its own client identity. It returns the underlying watcher too
// (nil if --no-watch), since only the caller knows whether to start it and
// pump its events into the engine.
func buildEngine(strategy engine.Strategy) (*engine.Engine, *watcher.Watcher, error) {
	if flagVaultDir == "" {
		return nil, nil, fmt.Errorf("--vault-dir is required")
	}
	credDir := flagCredDir
	if credDir == "" {
		credDir = filepath.Join(flagVaultDir, ".syncctl")
	}

	rules := watcher.ExclusionRules{
		ConfigDir:           ".obsidian",
		PluginsDir:          ".obsidian/plugins",
		WorkspaceEnabled:    true,
		PluginsEnabled:      !flagNoPlugins,
		SettingsEnabled:     !flagNoSettings,
		AllFileTypesEnabled: flagAllTypes,
	}

	var w *watcher.Watcher
	if !flagNoWatch {
		var err error
		w, err = watcher.New(flagVaultDir, rules)
		if err != nil {
			return nil, nil, fmt.Errorf("starting file watcher: %w", err)
		}
	}

	cfg := engine.Config{
		ServerURL:       flagServerURL,
		CredentialsDir:  credDir,
		Vault:           &engine.LocalVault{Dir: flagVaultDir},
		Rules:           rules,
		Watch:           w,
		Prompt:          promptPassword,
		InitialStrategy: strategy,
	}
	e, err := engine.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return e, w, nil
}

// promptPassword reads a password from the controlling terminal without
// echoing it, used when no stored auth token is available.
func promptPassword(ctx context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "Vault password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}
