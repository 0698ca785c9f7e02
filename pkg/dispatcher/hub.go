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

package dispatcher

import (
	"context"
	"sync"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/metrics"
	"github.com/sage-x-project/sage/pkg/auth"
	"github.com/sage-x-project/sage/pkg/protocol"
	"github.com/sage-x-project/sage/pkg/store"
	"github.com/sage-x-project/sage/pkg/transport/ws"
)

// Hub tracks every live connection and fans broadcasts (FILE_CHANGED,
// FILE_REMOVED, CLIENT_LIST) out to authenticated sessions. It holds no
// durable state of its own; everything persists through store.Store.
type Hub struct {
	serverID string
	store    store.Store
	auth     *auth.Service

	mu       sync.RWMutex
	sessions map[string]*session // keyed by session.id

	uiMu    sync.RWMutex
	uiConns map[string]*uiConn // keyed by uiConn.id, /ui dashboard viewers
}

// NewHub builds a dispatcher bound to st and authSvc, identifying itself to
// clients as serverID.
func NewHub(serverID string, st store.Store, authSvc *auth.Service) *Hub {
	return &Hub{
		serverID: serverID,
		store:    st,
		auth:     authSvc,
		sessions: make(map[string]*session),
		uiConns:  make(map[string]*uiConn),
	}
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
}

// findByClientID returns the live authenticated session for clientID, if
// any. Used by CLIENT_KICK.
func (h *Hub) findByClientID(clientID string) *session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		if s.isAuthenticated() && s.clientID == clientID {
			return s
		}
	}
	return nil
}

// authenticatedSessions snapshots every currently-authenticated session.
func (h *Hub) authenticatedSessions() []*session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.isAuthenticated() {
			out = append(out, s)
		}
	}
	return out
}

// broadcast sends v as a text frame to every authenticated session except
// the one named by exceptID (pass "" to include everyone).
func (h *Hub) broadcast(v interface{}, exceptID string) {
	for _, s := range h.authenticatedSessions() {
		if s.id == exceptID {
			continue
		}
		if err := s.conn.WriteJSON(v); err != nil {
			logger.Warn("dispatcher broadcast failed", logger.Error(err), logger.String("clientId", s.clientID))
		}
	}
}

// currentClientList builds a CLIENT_LIST from the store's client-session
// table, shared by the /sync broadcast path and /ui viewers.
func (h *Hub) currentClientList(ctx context.Context) protocol.ClientList {
	sessRows, err := h.store.ClientSessions().List(ctx)
	if err != nil {
		logger.Warn("dispatcher list client sessions failed", logger.Error(err))
		return protocol.ClientList{Type: protocol.TypeClientList}
	}
	clients := make([]protocol.ClientInfo, 0, len(sessRows))
	for _, row := range sessRows {
		clients = append(clients, protocol.ClientInfo{
			ClientID:   row.ClientID,
			DeviceName: row.DeviceName,
			Online:     row.Online,
		})
	}
	return protocol.ClientList{Type: protocol.TypeClientList, Clients: clients}
}

// broadcastClientList pushes a fresh CLIENT_LIST to every authenticated
// session and every /ui viewer, run after any authenticate or disconnect
// event.
func (h *Hub) broadcastClientList(ctx context.Context) {
	list := h.currentClientList(ctx)
	h.broadcast(list, "")
	h.broadcastUI(ctx, list)
}

// Stats exposes store statistics for the dashboard HTTP surface.
func (h *Hub) Stats(ctx context.Context) (*store.Stats, error) {
	return h.store.ChangeLog().Stats(ctx)
}

// ConnectedClientCount reports the number of currently authenticated
// sessions, for the dashboard.
func (h *Hub) ConnectedClientCount() int {
	return len(h.authenticatedSessions())
}

// Kick revokes every token for targetClientID and, if a live session for
// that client exists, closes it with AUTH_FAIL + CloseKicked. Token
// revocation always completes even with no live connection.
func (h *Hub) Kick(ctx context.Context, targetClientID string) error {
	if err := h.auth.RevokeByClientID(ctx, targetClientID); err != nil {
		return err
	}
	metrics.TokensRevoked.WithLabelValues("kick").Inc()

	target := h.findByClientID(targetClientID)
	if target == nil {
		return nil
	}
	_ = target.conn.WriteJSON(protocol.AuthFail{Type: protocol.TypeAuthFail, Reason: "Session revoked"})
	_ = target.conn.Close(protocol.CloseKicked, "kicked")
	return nil
}

// Upgrade-level entry point: Serve is called once per accepted connection.
func (h *Hub) newConnectionHandler(conn *ws.Conn) *session {
	s := newSession(conn, h)
	h.register(s)
	return s
}
