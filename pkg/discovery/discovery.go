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

// Package discovery implements the server's LAN presence announcement: a
// periodic UDP broadcast plus a responder for unicast probes, so a client
// on the same network can find a running server without a configured
// address.
package discovery

import (
	"encoding/json"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sage-x-project/sage/internal/logger"
)

const (
	announceInterval = 3 * time.Second
	serviceName       = "advanced-sync"
	readBufferSize    = 1024
)

// announcement is the payload broadcast every announceInterval and echoed
// back to a probe.
type announcement struct {
	Service  string `json:"service"`
	ServerID string `json:"serverId"`
	Port     int    `json:"port"`
	Hostname string `json:"hostname"`
}

// probe is the datagram a client sends to request an immediate
// announcement instead of waiting for the next broadcast tick.
type probe struct {
	Service string `json:"service"`
	Type    string `json:"type"`
}

// Responder broadcasts the server's presence on port and answers probes
// sent to the same port.
type Responder struct {
	port     int
	serverID string
	syncPort int
	hostname string

	conn *net.UDPConn

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewResponder builds a Responder that broadcasts on discoveryPort,
// advertising syncPort as the sync service's own listening port.
func NewResponder(discoveryPort, syncPort int, serverID string) (*Responder, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Responder{
		port:     discoveryPort,
		serverID: serverID,
		syncPort: syncPort,
		hostname: hostname,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start opens the UDP socket and begins both the periodic broadcast and
// the probe-response loop.
func (r *Responder) Start() error {
	addr := &net.UDPAddr{Port: r.port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return err
	}
	r.conn = conn

	go r.broadcastLoop()
	go r.respondLoop()
	return nil
}

// Stop closes the socket and ends both loops.
func (r *Responder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.conn != nil {
			_ = r.conn.Close()
		}
	})
}

// broadcastLoop sends the periodic announcement to the limited broadcast
// address. Some platforms require SO_BROADCAST on the socket for this to
// leave the host at all; net.ListenUDP does not set it, so a write here
// can fail silently into the void on those platforms, same as the
// respondLoop probe answer failing if the client's address is
// unreachable.
func (r *Responder) broadcastLoop() {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: r.port}
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.send(broadcastAddr)
		}
	}
}

func (r *Responder) respondLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
				logger.Warn("discovery: read failed", logger.Error(err))
				return
			}
		}

		var p probe
		if err := json.Unmarshal(buf[:n], &p); err != nil {
			continue
		}
		if p.Service != serviceName || p.Type != "probe" {
			continue
		}
		r.send(addr)
	}
}

func (r *Responder) send(addr *net.UDPAddr) {
	data, err := json.Marshal(announcement{
		Service:  serviceName,
		ServerID: r.serverID,
		Port:     r.syncPort,
		Hostname: r.hostname,
	})
	if err != nil {
		return
	}
	if _, err := r.conn.WriteToUDP(data, addr); err != nil {
		logger.Warn("discovery: send failed", logger.Error(err), logger.String("addr", addr.String()))
	}
}
