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

package discovery

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResponderAnswersProbe(t *testing.T) {
	r, err := NewResponder(0, 9443, "server-abc")
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	serverAddr := r.conn.LocalAddr().(*net.UDPAddr)

	client, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	defer client.Close()

	req, err := json.Marshal(probe{Service: serviceName, Type: "probe"})
	require.NoError(t, err)
	_, err = client.WriteToUDP(req, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: serverAddr.Port})
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, readBufferSize)
	n, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err)

	var got announcement
	require.NoError(t, json.Unmarshal(buf[:n], &got))
	require.Equal(t, serviceName, got.Service)
	require.Equal(t, "server-abc", got.ServerID)
	require.Equal(t, 9443, got.Port)
}

func TestResponderIgnoresUnrelatedDatagrams(t *testing.T) {
	r, err := NewResponder(0, 9443, "server-abc")
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	serverAddr := r.conn.LocalAddr().(*net.UDPAddr)

	client, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.WriteToUDP([]byte("not json"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: serverAddr.Port})
	require.NoError(t, err)

	other, err := json.Marshal(probe{Service: "unrelated", Type: "probe"})
	require.NoError(t, err)
	_, err = client.WriteToUDP(other, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: serverAddr.Port})
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, readBufferSize)
	_, _, err = client.ReadFromUDP(buf)
	require.Error(t, err, "neither malformed nor mismatched-service datagrams get a reply")
}
