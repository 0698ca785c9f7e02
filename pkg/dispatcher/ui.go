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

	"github.com/google/uuid"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/pkg/protocol"
	"github.com/sage-x-project/sage/pkg/transport/ws"
)

// uiConn is a registered dashboard viewer. It runs no auth or sync state
// machine of its own; the HTTP surface's /api/ui-auth check gates the
// upgrade before ServeUI is ever called.
type uiConn struct {
	id   string
	conn *ws.Conn
}

func (h *Hub) registerUI(conn *ws.Conn) *uiConn {
	u := &uiConn{id: uuid.NewString(), conn: conn}
	h.uiMu.Lock()
	h.uiConns[u.id] = u
	h.uiMu.Unlock()
	return u
}

func (h *Hub) unregisterUI(u *uiConn) {
	h.uiMu.Lock()
	delete(h.uiConns, u.id)
	h.uiMu.Unlock()
}

// broadcastUI pushes a CLIENT_LIST and DASHBOARD_STATS snapshot to every
// connected /ui viewer. Called from the same event sites as
// broadcastClientList, so a dashboard always sees what /sync clients see.
func (h *Hub) broadcastUI(ctx context.Context, clientList protocol.ClientList) {
	h.uiMu.RLock()
	viewers := make([]*uiConn, 0, len(h.uiConns))
	for _, u := range h.uiConns {
		viewers = append(viewers, u)
	}
	h.uiMu.RUnlock()
	if len(viewers) == 0 {
		return
	}

	stats, err := h.store.ChangeLog().Stats(ctx)
	if err != nil {
		logger.Warn("dispatcher ui stats lookup failed", logger.Error(err))
		return
	}
	statsMsg := protocol.DashboardStats{
		Type:             protocol.TypeDashboardStats,
		TotalFiles:       stats.TotalFiles,
		TotalSize:        stats.TotalSize,
		Sequence:         stats.Sequence,
		ConnectedClients: h.ConnectedClientCount(),
	}

	for _, u := range viewers {
		if err := u.conn.WriteJSON(clientList); err != nil {
			logger.Warn("dispatcher ui broadcast failed", logger.Error(err))
			continue
		}
		if err := u.conn.WriteJSON(statsMsg); err != nil {
			logger.Warn("dispatcher ui broadcast failed", logger.Error(err))
		}
	}
}

// ServeUI blocks for the lifetime of a /ui upgrade, keeping the connection
// registered for broadcastUI pushes. Dashboard viewers never send anything
// the server acts on; any inbound frame is discarded, and a read error or
// close ends the loop.
func (h *Hub) ServeUI(ctx context.Context, conn *ws.Conn) {
	u := h.registerUI(conn)
	defer h.unregisterUI(u)

	h.broadcastUI(ctx, h.currentClientList(ctx))

	for {
		if _, err := conn.ReadFrame(); err != nil {
			if ws.IsUnexpectedClose(err) {
				logger.Warn("dispatcher ui connection error", logger.Error(err))
			}
			return
		}
	}
}
