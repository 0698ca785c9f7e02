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

const reconcileTimeout = 60 * time.Second

func newSyncCmd(use string, strategy engine.Strategy) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Run a one-shot %s reconciliation against the server", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShotSync(strategy)
		},
	}
}

func runOneShotSync(strategy engine.Strategy) error {
	e, _, err := buildEngine(strategy)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	e.Start(ctx)
	defer e.Stop()

	if err := waitForState(ctx, e, engine.Idle, engine.Errored); err != nil {
		return err
	}
	if e.State() == engine.Errored {
		return fmt.Errorf("sync ended in error state, see history for detail")
	}

	for _, entry := range e.History().Recent() {
		fmt.Printf("%s %s %s\n", entry.At.Format(time.RFC3339), entry.Kind, entry.Path)
	}
	fmt.Println("sync complete")
	return nil
}

// waitForState blocks until e.State() is one of targets or ctx expires.
func waitForState(ctx context.Context, e *engine.Engine, targets ...engine.State) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		current := e.State()
		for _, t := range targets {
			if current == t {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for sync to finish (last state: %s)", current)
		case <-ticker.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(newSyncCmd("push", engine.StrategyPush))
	rootCmd.AddCommand(newSyncCmd("pull", engine.StrategyPull))
	rootCmd.AddCommand(newSyncCmd("merge", engine.StrategyMerge))
	rootCmd.AddCommand(newSyncCmd("force-pull", engine.StrategyForcePull))
}
