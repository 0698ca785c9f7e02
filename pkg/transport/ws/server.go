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

package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Upgrader upgrades incoming HTTP requests to WebSocket connections for
// both server paths (/sync and /ui). The two paths share one Upgrader
// configuration so the handshake parameters (buffer sizes, compression,
// origin policy) never drift between them, but routing itself is a plain
// http.ServeMux match on "GET /sync" vs "GET /ui": each handler only ever
// calls Upgrade for its own path, before any handshake happens.
type Upgrader struct {
	ws websocket.Upgrader
}

// NewUpgrader builds an Upgrader allowing frames up to MaxFrameBytes, with
// per-message compression disabled and origin checking left to the caller
// (the dashboard and sync paths have different trust boundaries).
func NewUpgrader(checkOrigin func(*http.Request) bool) *Upgrader {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Upgrader{
		ws: websocket.Upgrader{
			CheckOrigin:       checkOrigin,
			ReadBufferSize:    32 * 1024,
			WriteBufferSize:   32 * 1024,
			EnableCompression: false,
		},
	}
}

// Upgrade completes the WebSocket handshake and wraps the result in a Conn
// carrying the caller's source address.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, err := u.ws.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(conn, RemoteIP(r)), nil
}

// RemoteIP returns the first segment of X-Forwarded-For when present,
// otherwise the request's RemoteAddr.
func RemoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
