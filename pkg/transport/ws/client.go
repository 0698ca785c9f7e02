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
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/metrics"
	"github.com/sage-x-project/sage/pkg/protocol"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
	keepaliveEvery = 30 * time.Second
	dialTimeout    = 10 * time.Second
)

// Handler receives frames off an open Client connection. OnOpen runs once
// per successful connect/reconnect, before any queued sends flush, so the
// caller can re-run authentication on each new open.
type Handler interface {
	OnOpen(ctx context.Context, c *Client) error
	OnText(data []byte) error
	OnBinary(data []byte) error
	OnClose(err error)
}

// Client is the C5 client-side transport: a single long-lived connection
// with exponential-backoff auto-reconnect and an application keepalive.
type Client struct {
	url     string
	handler Handler

	mu      sync.Mutex
	conn    *Conn
	open    bool
	wantUp  bool
	backoff time.Duration
	queue   [][]byte // queued text frames, flushed on open

	closeOnce sync.Once
	stopCh    chan struct{}
}

// NewClient creates a disconnected Client. Call Start to begin the
// connect/reconnect lifecycle.
func NewClient(url string, handler Handler) *Client {
	return &Client{
		url:     url,
		handler: handler,
		backoff: backoffInitial,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the connect loop in the background. It returns immediately;
// connection failures are retried with backoff rather than returned.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.wantUp = true
	c.mu.Unlock()
	go c.run(ctx)
}

// Stop ends the reconnect lifecycle permanently and closes any open
// connection. Reconnect attempts only stop on an explicit user disconnect.
func (c *Client) Stop() {
	c.mu.Lock()
	c.wantUp = false
	conn := c.conn
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.stopCh) })
	if conn != nil {
		_ = conn.Close(websocket.CloseNormalClosure, "client disconnect")
	}
}

func (c *Client) run(ctx context.Context) {
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			logger.Warn("sync transport connect failed", logger.Error(err), logger.String("url", c.url))
			metrics.ReconnectAttempts.Inc()
			select {
			case <-time.After(c.nextBackoff()):
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		c.resetBackoff()
		c.readLoop(ctx) // blocks until the connection drops

		c.mu.Lock()
		wantUp := c.wantUp
		c.mu.Unlock()
		if !wantUp {
			return
		}
		metrics.ReconnectAttempts.Inc()
		select {
		case <-time.After(c.nextBackoff()):
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	wsConn, _, err := dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}
	conn := NewConn(wsConn, c.url)

	c.mu.Lock()
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	if err := c.handler.OnOpen(ctx, c); err != nil {
		_ = conn.Close(websocket.CloseProtocolError, "auth failed")
		c.setClosed()
		return fmt.Errorf("ws: open handler: %w", err)
	}

	c.flushQueue()
	go c.keepalive(ctx, conn)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	var exitErr error
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if IsUnexpectedClose(err) {
				exitErr = err
			}
			break
		}
		if frame.IsBinary {
			if err := c.handler.OnBinary(frame.Data); err != nil {
				logger.Warn("sync transport binary handler error", logger.Error(err))
			}
			continue
		}
		if err := c.handler.OnText(frame.Data); err != nil {
			logger.Warn("sync transport text handler error", logger.Error(err))
		}
	}
	c.setClosed()
	c.handler.OnClose(exitErr)
}

func (c *Client) setClosed() {
	c.mu.Lock()
	c.open = false
	c.conn = nil
	c.mu.Unlock()
}

// IsOpen reports whether the connection is currently established.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send queues data if the connection is closed, or writes it immediately
// when open. Queued sends flush once the connection reopens.
func (c *Client) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	if !c.open {
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return conn.WriteJSON(json.RawMessage(data))
}

// SendBinary writes data immediately if open, or drops it silently.
// Binaries are only ever sent paired with a header the caller just
// confirmed was flushed, so there is nothing useful to queue them behind.
func (c *Client) SendBinary(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	open := c.open
	c.mu.Unlock()

	if !open {
		return nil
	}
	return conn.WriteBinary(data)
}

func (c *Client) flushQueue() {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	conn := c.conn
	c.mu.Unlock()

	for _, data := range queue {
		if err := conn.WriteJSON(json.RawMessage(data)); err != nil {
			logger.Warn("sync transport flush failed", logger.Error(err))
			return
		}
	}
}

func (c *Client) keepalive(ctx context.Context, conn *Conn) {
	ticker := time.NewTicker(keepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			stillCurrent := c.conn == conn
			c.mu.Unlock()
			if !stillCurrent {
				return
			}
			ping := protocol.Ping{Type: protocol.TypePing, Timestamp: time.Now().UnixMilli()}
			if err := conn.WriteJSON(ping); err != nil {
				return
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.backoff
	c.backoff *= 2
	if c.backoff > backoffMax {
		c.backoff = backoffMax
	}
	return d
}

func (c *Client) resetBackoff() {
	c.mu.Lock()
	c.backoff = backoffInitial
	c.mu.Unlock()
}
