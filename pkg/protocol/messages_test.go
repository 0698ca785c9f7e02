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

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekType(t *testing.T) {
	msg := Auth{Type: TypeAuth, ClientID: "c1", DeviceName: "laptop", ProtocolVersion: ProtocolVersion}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	typ, err := PeekType(data)
	require.NoError(t, err)
	assert.Equal(t, TypeAuth, typ)
}

func TestPeekTypeInvalidJSON(t *testing.T) {
	_, err := PeekType([]byte("not json"))
	assert.Error(t, err)
}

func TestMessageRoundTrip(t *testing.T) {
	orig := SyncResponse{
		Type: TypeSyncResponse,
		Entries: []ChangeEntry{
			{FileID: "abc", EncryptedMeta: "ZGF0YQ==", Mtime: 1000, Size: 5, Sequence: 1},
		},
		CurrentSequence: 1,
		FullSync:        true,
	}
	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var decoded SyncResponse
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, orig, decoded)
}
