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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage/pkg/cryptoutil"
	"github.com/sage-x-project/sage/pkg/engine"
)

var initHTTPURL string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "First-run setup: set the server's vault password, then sync",
	Long: `init sets the server's password hash via its HTTP surface (failing if
the server is already initialized), then connects and runs a merge
reconciliation to establish the local credential store.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initHTTPURL, "http", "", "server's HTTP base URL (default: derived from --server)")
}

func runInit(cmd *cobra.Command, args []string) error {
	password, err := promptPassword(context.Background())
	if err != nil {
		return err
	}

	httpBase := initHTTPURL
	if httpBase == "" {
		httpBase = httpBaseFromWS(flagServerURL)
	}

	if err := postInit(httpBase, cryptoutil.SHA256HexString(password)); err != nil {
		return fmt.Errorf("server init failed: %w", err)
	}
	fmt.Println("server initialized")

	return runOneShotSync(engine.StrategyMerge)
}

func postInit(httpBase, passwordHash string) error {
	body, err := json.Marshal(map[string]string{"passwordHash": passwordHash})
	if err != nil {
		return err
	}
	resp, err := http.Post(httpBase+"/api/init", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// httpBaseFromWS turns a ws(s)://host:port/sync URL into its http(s) origin.
func httpBaseFromWS(wsURL string) string {
	base := strings.TrimSuffix(wsURL, "/sync")
	base = strings.Replace(base, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)
	return base
}
