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
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "syncctl - admin and test client for a syncd vault server",
	Long: `syncctl drives the client sync engine against a running syncd server:
first-run vault setup, one-shot push/pull/merge reconciliation, continuous
watch mode, and status reporting.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "ws://127.0.0.1:9443/sync", "sync server websocket URL")
	rootCmd.PersistentFlags().StringVar(&flagVaultDir, "vault-dir", "", "local vault directory")
	rootCmd.PersistentFlags().StringVar(&flagCredDir, "cred-dir", "", "credentials directory (default: <vault-dir>/.syncctl)")
	rootCmd.PersistentFlags().BoolVar(&flagNoWatch, "no-watch", false, "skip starting the filesystem watcher")
	rootCmd.PersistentFlags().BoolVar(&flagAllTypes, "all-file-types", false, "sync every file type, not just notes")
	rootCmd.PersistentFlags().BoolVar(&flagNoPlugins, "no-plugins", false, "exclude the plugins subtree")
	rootCmd.PersistentFlags().BoolVar(&flagNoSettings, "no-settings", false, "exclude the settings subtree")
}
