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

// Package engine implements the vault client's sync state machine: auth and
// key lifecycle, manifest reconciliation, bounded-concurrency upload and
// download pipelines, and the offline local-change queue.
package engine

// State is a node in the client's connection lifecycle. Only Idle permits
// outgoing incremental traffic; every other state queues local changes.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Syncing
	Idle
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Syncing:
		return "syncing"
	case Idle:
		return "idle"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Strategy picks how a new device reconciles against an existing server
// vault. Merge is the default; the others are one-shot choices a fresh
// device (or an admin-forced resync) makes once.
type Strategy int

const (
	StrategyMerge Strategy = iota
	StrategyPull
	StrategyPush
	StrategyForcePull
)
