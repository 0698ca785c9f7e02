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

// Package httpapi exposes the server's dashboard/init HTTP surface: a thin
// JSON layer over pkg/auth, pkg/store and pkg/dispatcher. It carries no
// sync-protocol logic of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/pkg/auth"
	"github.com/sage-x-project/sage/pkg/dispatcher"
	"github.com/sage-x-project/sage/pkg/store"
)

// Server is the HTTP surface described at spec.md §6: health, first-run
// initialization, dashboard password check, and read-only stats/session
// views. It holds no state beyond its dependencies and a start time for
// uptime reporting.
type Server struct {
	auth  *auth.Service
	store store.Store
	hub   *dispatcher.Hub

	started time.Time
	server  *http.Server
}

// NewServer builds a Server bound to authSvc/st/hub. Call Start to begin
// listening.
func NewServer(authSvc *auth.Service, st store.Store, hub *dispatcher.Hub) *Server {
	return &Server{
		auth:    authSvc,
		store:   st,
		hub:     hub,
		started: time.Now(),
	}
}

// RegisterRoutes adds the dashboard surface's routes to mux. Callers that
// share one listener between this surface and the sync websocket upgrade
// (cmd/syncd) register both on the same mux instead of calling Start.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/init", s.handleInit)
	mux.HandleFunc("POST /api/ui-auth", s.handleUIAuth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/clients", s.handleClients)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/sessions/{id}/revoke", s.handleRevokeSession)
}

// Start begins listening on port in the background.
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting dashboard HTTP surface", logger.Int("port", port))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("dashboard HTTP surface stopped", logger.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP surface down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	hash, err := s.store.VaultMeta().GetPasswordHash(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"uptime":      time.Since(s.started).String(),
		"initialized": hash != "",
	})
}

type passwordHashRequest struct {
	PasswordHash string `json:"passwordHash"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req passwordHashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := s.auth.Initialize(r.Context(), req.PasswordHash); err != nil {
		if errors.Is(err, auth.ErrAlreadyInitialized) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "already initialized"})
			return
		}
		if errors.Is(err, auth.ErrInvalidHash) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		logger.Warn("init failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}

func (s *Server) handleUIAuth(w http.ResponseWriter, r *http.Request) {
	var req passwordHashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := s.auth.VerifyPassword(r.Context(), req.PasswordHash, clientIP(r)); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrRateLimited) {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.hub.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalFiles":       stats.TotalFiles,
		"totalSize":        stats.TotalSize,
		"sequence":         stats.Sequence,
		"connectedClients": s.hub.ConnectedClientCount(),
	})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ClientSessions().List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleSessions reuses the client-session history as the dashboard's
// session list: every session the sync protocol tracks is keyed by the
// same clientId a revoke targets.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ClientSessions().List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ChangeLog().Reset(r.Context()); err != nil {
		logger.Warn("reset failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")
	if clientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing session id"})
		return
	}
	if err := s.hub.Kick(r.Context(), clientID); err != nil {
		logger.Warn("revoke failed", logger.Error(err), logger.String("clientId", clientID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
