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

// Package ws is the C5 connection transport: a single-writer bidirectional
// WebSocket channel shared by the client (with auto-reconnect and
// keepalive) and the server (upgrade routing + per-connection send/recv).
package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/sage/pkg/protocol"
)

const writeTimeout = 10 * time.Second
const maxFrameBytes = protocol.MaxFrameBytes

// Conn wraps a gorilla websocket.Conn with a single-writer discipline: a
// text frame and the binary frame that follows it (FILE_UPLOAD/body,
// FILE_DOWNLOAD_RESPONSE/body) must never be interleaved with anything
// else written by this side.
type Conn struct {
	ws         *websocket.Conn
	writeMu    sync.Mutex
	remoteAddr string
}

// NewConn wraps an already-established websocket connection.
func NewConn(ws *websocket.Conn, remoteAddr string) *Conn {
	ws.SetReadLimit(maxFrameBytes)
	return &Conn{ws: ws, remoteAddr: remoteAddr}
}

// RemoteAddr returns the address recorded at connection time (possibly the
// first hop of an X-Forwarded-For header; see Upgrade).
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// WriteJSON marshals v and sends it as a single text frame.
func (c *Conn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ws: marshal: %w", err)
	}
	return c.writeRaw(websocket.TextMessage, data)
}

// WriteBinary sends raw bytes as a single binary frame. Callers are
// responsible for calling this immediately after the paired text frame and
// before anything else is written.
func (c *Conn) WriteBinary(data []byte) error {
	return c.writeRaw(websocket.BinaryMessage, data)
}

func (c *Conn) writeRaw(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// Frame is one message read off the wire: either JSON text (IsBinary
// false) or a raw binary body (IsBinary true).
type Frame struct {
	IsBinary bool
	Data     []byte
}

// ReadFrame blocks for the next frame. Read errors are returned unchanged;
// callers use IsUnexpectedClose to tell a clean close from an abnormal one.
func (c *Conn) ReadFrame() (Frame, error) {
	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return Frame{IsBinary: messageType == websocket.BinaryMessage, Data: data}, nil
}

// Close sends a close frame with code/reason and tears down the socket.
func (c *Conn) Close(code int, reason string) error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeTimeout),
	)
	c.writeMu.Unlock()
	return c.ws.Close()
}

// IsUnexpectedClose reports whether err represents an abnormal close
// rather than a clean shutdown.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure)
}
