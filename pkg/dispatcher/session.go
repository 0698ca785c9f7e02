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

// Package dispatcher is the C6 server session dispatcher: one goroutine per
// connection running a NEW -> AUTHENTICATED -> CLOSED state machine over a
// pkg/transport/ws connection, backed by pkg/store and pkg/auth.
package dispatcher

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/sage/pkg/protocol"
	"github.com/sage-x-project/sage/pkg/transport/ws"
)

type state int

const (
	stateNew state = iota
	stateAuthenticated
	stateClosed
)

const authTimeout = 10 * time.Second

// session is one connection's mutable state. All fields behind mu are
// touched both by the connection's own read loop and by other sessions'
// goroutines broadcasting through the hub.
type session struct {
	id   string
	conn *ws.Conn
	hub  *Hub

	mu         sync.Mutex
	state      state
	clientID   string
	deviceName string
	ip         string

	pendingUpload *protocol.FileUpload

	authTimer *time.Timer
}

func newSession(conn *ws.Conn, hub *Hub) *session {
	return &session{
		id:    uuid.NewString(),
		conn:  conn,
		hub:   hub,
		state: stateNew,
		ip:    conn.RemoteAddr(),
	}
}

func (s *session) setAuthenticated(clientID, deviceName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateAuthenticated
	s.clientID = clientID
	s.deviceName = deviceName
	if s.authTimer != nil {
		s.authTimer.Stop()
	}
}

func (s *session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateAuthenticated
}

func (s *session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
	if s.authTimer != nil {
		s.authTimer.Stop()
	}
}

// setPendingUpload replaces any existing pending header. At most one header
// may be outstanding; a text frame arriving while one is pending simply
// replaces it.
func (s *session) setPendingUpload(hdr *protocol.FileUpload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingUpload = hdr
}

// takePendingUpload returns and clears the pending header, or nil if none is
// outstanding (a binary frame with no header is silently discarded by the
// caller).
func (s *session) takePendingUpload() *protocol.FileUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	hdr := s.pendingUpload
	s.pendingUpload = nil
	return hdr
}

func (s *session) clientInfo(online bool) protocol.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.ClientInfo{ClientID: s.clientID, DeviceName: s.deviceName, Online: online}
}
