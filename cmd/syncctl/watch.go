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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/sage/pkg/engine"
	"github.com/sage-x-project/sage/pkg/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and sync local changes as they happen",
	Long: `watch starts the file watcher and the sync engine together and runs
until interrupted, reconciling on connect and then streaming local changes
to the server as they occur.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if flagNoWatch {
		return fmt.Errorf("watch requires the file watcher; do not pass --no-watch")
	}

	e, w, err := buildEngine(engine.StrategyMerge)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	defer e.Stop()

	if w != nil {
		if err := w.Start(); err != nil {
			return fmt.Errorf("starting file watcher: %w", err)
		}
		defer w.Stop()
		go pumpLocalChanges(ctx, e, w)
	}

	fmt.Println("watching for changes, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("stopping")
	return nil
}

// pumpLocalChanges feeds watcher events to the engine until ctx is done or
// the watcher's channel closes.
func pumpLocalChanges(ctx context.Context, e *engine.Engine, w *watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-w.Events:
			if !ok {
				return
			}
			e.HandleLocalChange(ctx, change)
		}
	}
}
