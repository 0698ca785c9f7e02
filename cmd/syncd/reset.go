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

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage/config"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe the change log and blob store",
	Long: `reset clears the server's change log and blob contents together
with client tokens, client sessions, the vault salt and the password hash.
It opens the store directly, bypassing the network listener entirely.`,
	RunE: runReset,
}

var resetDataDir string

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().StringVar(&resetDataDir, "data-dir", "", "override the vault data directory")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.DefaultLoaderOptions())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if resetDataDir != "" {
		cfg.Server.DataDir = resetDataDir
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	if err := st.ChangeLog().Reset(context.Background()); err != nil {
		return fmt.Errorf("resetting change log: %w", err)
	}

	fmt.Println("change log reset")
	return nil
}
