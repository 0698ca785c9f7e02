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
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage/pkg/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect briefly and report the client's sync state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, _, err := buildEngine(engine.StrategyMerge)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	e.Start(ctx)
	defer e.Stop()

	_ = waitForState(ctx, e, engine.Idle, engine.Errored)

	fmt.Printf("state: %s\n", e.State())
	for _, entry := range e.History().Recent() {
		fmt.Printf("  %s %s %s\n", entry.At.Format(time.RFC3339), entry.Kind, entry.Path)
	}
	return nil
}
