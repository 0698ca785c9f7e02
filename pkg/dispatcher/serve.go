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
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/metrics"
	"github.com/sage-x-project/sage/pkg/auth"
	"github.com/sage-x-project/sage/pkg/protocol"
	"github.com/sage-x-project/sage/pkg/store"
	"github.com/sage-x-project/sage/pkg/transport/ws"
)

// Serve runs the per-connection state machine to completion, blocking until
// the connection closes. It is the dispatcher's single entry point, called
// once per accepted /sync upgrade.
func (h *Hub) Serve(ctx context.Context, conn *ws.Conn) {
	s := h.newConnectionHandler(conn)
	s.authTimer = time.AfterFunc(authTimeout, func() {
		if !s.isAuthenticated() {
			_ = conn.Close(protocol.CloseAuthTimeout, "authentication timeout")
		}
	})

	defer h.onDisconnect(ctx, s)

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if ws.IsUnexpectedClose(err) {
				logger.Warn("dispatcher connection error", logger.Error(err))
			}
			return
		}

		if frame.IsBinary {
			h.handleBinary(ctx, s, frame.Data)
			continue
		}
		if err := h.handleText(ctx, s, frame.Data); err != nil {
			logger.Warn("dispatcher text frame error", logger.Error(err))
			return
		}
	}
}

func (h *Hub) onDisconnect(ctx context.Context, s *session) {
	wasAuthenticated := s.isAuthenticated()
	s.markClosed()
	h.unregister(s)

	if !wasAuthenticated {
		return
	}
	metrics.ConnectedClients.Dec()
	if err := h.store.ClientSessions().SetOnline(ctx, s.clientID, false); err != nil {
		logger.Warn("dispatcher set offline failed", logger.Error(err), logger.String("clientId", s.clientID))
	}
	logger.Info("client disconnected", logger.String("clientId", s.clientID))
	h.broadcastClientList(ctx)
}

func (h *Hub) handleText(ctx context.Context, s *session, data []byte) error {
	msgType, err := protocol.PeekType(data)
	if err != nil {
		_ = s.conn.Close(protocol.CloseInvalidJSON, "invalid json")
		return err
	}

	if msgType == protocol.TypeAuth {
		return h.handleAuth(ctx, s, data)
	}

	if !s.isAuthenticated() {
		_ = s.conn.Close(protocol.CloseUnauthenticatedOp, "not authenticated")
		return errors.New("dispatcher: operation before authentication")
	}

	switch msgType {
	case protocol.TypeSyncRequest:
		return h.handleSyncRequest(ctx, s, data)
	case protocol.TypeFileUpload:
		return h.handleFileUploadHeader(s, data)
	case protocol.TypeFileDownload:
		return h.handleFileDownload(ctx, s, data)
	case protocol.TypeFileDelete:
		return h.handleFileDelete(ctx, s, data)
	case protocol.TypeClientKick:
		return h.handleClientKick(ctx, s, data)
	case protocol.TypePing:
		return h.handlePing(s, data)
	default:
		logger.Warn("dispatcher ignoring unknown message type", logger.String("type", string(msgType)))
		return nil
	}
}

// handleBinary pairs the frame with the session's pending upload header. A
// binary frame with no pending header is silently discarded.
func (h *Hub) handleBinary(ctx context.Context, s *session, data []byte) {
	hdr := s.takePendingUpload()
	if hdr == nil {
		return
	}

	seq, err := h.store.ChangeLog().PutFile(ctx, hdr.FileID, hdr.EncryptedMeta, hdr.Mtime, hdr.Size, data)
	if err != nil {
		logger.Warn("dispatcher put file failed", logger.Error(err), logger.String("fileId", hdr.FileID))
		return
	}
	metrics.FilesUploaded.Inc()
	metrics.SequenceCurrent.Set(float64(seq))

	if err := s.conn.WriteJSON(protocol.FileUploadAck{
		Type:     protocol.TypeFileUploadAck,
		FileID:   hdr.FileID,
		Sequence: seq,
	}); err != nil {
		logger.Warn("dispatcher ack write failed", logger.Error(err))
	}

	h.broadcast(protocol.FileChanged{
		Type:           protocol.TypeFileChanged,
		FileID:         hdr.FileID,
		EncryptedMeta:  hdr.EncryptedMeta,
		Mtime:          hdr.Mtime,
		Size:           hdr.Size,
		Sequence:       seq,
		SourceClientID: s.clientID,
	}, s.id)
}

func (h *Hub) handleAuth(ctx context.Context, s *session, data []byte) error {
	var msg protocol.Auth
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.conn.Close(protocol.CloseInvalidJSON, "invalid json")
		return err
	}

	if msg.ProtocolVersion != protocol.ProtocolVersion {
		_ = s.conn.WriteJSON(protocol.AuthFail{Type: protocol.TypeAuthFail, Reason: "protocol version mismatch"})
		_ = s.conn.Close(protocol.CloseProtocolMismatch, "protocol version mismatch")
		return nil
	}

	clientID, deviceName, token, err := h.authenticate(ctx, s, msg)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues(authMethod(msg), "fail").Inc()
		_ = s.conn.WriteJSON(protocol.AuthFail{Type: protocol.TypeAuthFail, Reason: err.Error()})
		return nil
	}
	metrics.AuthAttempts.WithLabelValues(authMethod(msg), "ok").Inc()

	salt, err := h.store.VaultMeta().GetOrCreateSalt(ctx)
	if err != nil {
		_ = s.conn.WriteJSON(protocol.AuthFail{Type: protocol.TypeAuthFail, Reason: "server error"})
		return err
	}

	s.setAuthenticated(clientID, deviceName)
	now := time.Now()
	if err := h.store.ClientSessions().Upsert(ctx, &store.ClientSession{
		ClientID:   clientID,
		DeviceName: deviceName,
		IP:         s.ip,
		FirstSeen:  now,
		LastSeen:   now,
		Online:     true,
	}); err != nil {
		logger.Warn("dispatcher upsert client session failed", logger.Error(err))
	}
	metrics.ConnectedClients.Inc()

	if err := s.conn.WriteJSON(protocol.AuthOK{
		Type:      protocol.TypeAuthOK,
		ServerID:  h.serverID,
		VaultSalt: base64.StdEncoding.EncodeToString(salt),
		AuthToken: token,
	}); err != nil {
		return err
	}

	logger.Info("client authenticated", logger.String("clientId", clientID), logger.String("deviceName", deviceName))
	h.broadcastClientList(ctx)
	return nil
}

// authenticate tries token auth first, then password auth. It returns the
// client's identity and the token to hand back in AUTH_OK.
func (h *Hub) authenticate(ctx context.Context, s *session, msg protocol.Auth) (clientID, deviceName, token string, err error) {
	if msg.AuthToken != "" {
		tok, err := h.auth.ValidateToken(ctx, msg.AuthToken)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				return "", "", "", errors.New("Session revoked")
			}
			return "", "", "", err
		}
		return tok.ClientID, tok.DeviceName, tok.Token, nil
	}

	if err := h.auth.VerifyPassword(ctx, msg.PasswordHash, s.ip); err != nil {
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			return "", "", "", errors.New("too many attempts")
		case errors.Is(err, auth.ErrInvalidPassword):
			return "", "", "", errors.New("invalid password")
		default:
			return "", "", "", err
		}
	}

	tok, err := h.auth.IssueToken(ctx, msg.ClientID, msg.DeviceName, s.ip)
	if err != nil {
		return "", "", "", err
	}
	return msg.ClientID, msg.DeviceName, tok.Token, nil
}

func authMethod(msg protocol.Auth) string {
	if msg.AuthToken != "" {
		return "token"
	}
	return "password"
}

func (h *Hub) handleSyncRequest(ctx context.Context, s *session, data []byte) error {
	var msg protocol.SyncRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.conn.Close(protocol.CloseInvalidJSON, "invalid json")
		return err
	}

	if msg.LastSequence == 0 {
		manifest, err := h.store.ChangeLog().GetManifest(ctx)
		if err != nil {
			return err
		}
		return s.conn.WriteJSON(protocol.SyncResponse{
			Type:            protocol.TypeSyncResponse,
			Entries:         toEntries(manifest.Entries),
			CurrentSequence: manifest.Sequence,
			FullSync:        true,
		})
	}

	records, err := h.store.ChangeLog().GetChangesSince(ctx, msg.LastSequence)
	if err != nil {
		return err
	}
	current, err := h.store.ChangeLog().GetCurrentSequence(ctx)
	if err != nil {
		return err
	}
	return s.conn.WriteJSON(protocol.SyncResponse{
		Type:            protocol.TypeSyncResponse,
		Entries:         toEntries(records),
		CurrentSequence: current,
		FullSync:        false,
	})
}

func toEntries(records []store.FileRecord) []protocol.ChangeEntry {
	entries := make([]protocol.ChangeEntry, len(records))
	for i, r := range records {
		entries[i] = protocol.ChangeEntry{
			FileID:        r.FileID,
			EncryptedMeta: r.EncryptedMeta,
			Mtime:         r.Mtime,
			Size:          r.Size,
			Sequence:      r.Sequence,
			Deleted:       r.Deleted,
		}
	}
	return entries
}

func (h *Hub) handleFileUploadHeader(s *session, data []byte) error {
	var msg protocol.FileUpload
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.conn.Close(protocol.CloseInvalidJSON, "invalid json")
		return err
	}
	s.setPendingUpload(&msg)
	return nil
}

// handleFileDownload replies with the blob immediately following its
// header. A missing blob is skipped silently; the client times that file
// out and continues.
func (h *Hub) handleFileDownload(ctx context.Context, s *session, data []byte) error {
	var msg protocol.FileDownload
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.conn.Close(protocol.CloseInvalidJSON, "invalid json")
		return err
	}

	meta, err := h.store.ChangeLog().GetFileMeta(ctx, msg.FileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	blob, err := h.store.ChangeLog().GetBlob(ctx, msg.FileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.conn.WriteJSON(protocol.FileDownloadResponse{
		Type:          protocol.TypeFileDownloadResponse,
		FileID:        msg.FileID,
		EncryptedMeta: meta.EncryptedMeta,
		Mtime:         meta.Mtime,
		Size:          meta.Size,
	}); err != nil {
		return err
	}
	if err := s.conn.WriteBinary(blob); err != nil {
		return err
	}
	metrics.FilesDownloaded.WithLabelValues("ok").Inc()
	return nil
}

func (h *Hub) handleFileDelete(ctx context.Context, s *session, data []byte) error {
	var msg protocol.FileDelete
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.conn.Close(protocol.CloseInvalidJSON, "invalid json")
		return err
	}

	seq, err := h.store.ChangeLog().DeleteFile(ctx, msg.FileID)
	if err != nil {
		return err
	}
	metrics.FilesDeleted.Inc()
	metrics.SequenceCurrent.Set(float64(seq))

	// FILE_REMOVED doubles as the sender's ack (it carries the allocated
	// sequence) and the peer broadcast, so it goes to every authenticated
	// session rather than excluding the sender.
	h.broadcast(protocol.FileRemoved{
		Type:           protocol.TypeFileRemoved,
		FileID:         msg.FileID,
		Sequence:       seq,
		SourceClientID: s.clientID,
	}, "")
	return nil
}

func (h *Hub) handleClientKick(ctx context.Context, s *session, data []byte) error {
	var msg protocol.ClientKick
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.conn.Close(protocol.CloseInvalidJSON, "invalid json")
		return err
	}
	return h.Kick(ctx, msg.TargetClientID)
}

func (h *Hub) handlePing(s *session, data []byte) error {
	var msg protocol.Ping
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.conn.Close(protocol.CloseInvalidJSON, "invalid json")
		return err
	}
	return s.conn.WriteJSON(protocol.Pong{Type: protocol.TypePong, Timestamp: msg.Timestamp})
}
