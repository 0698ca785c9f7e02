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

package engine

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCredentialStoreLoadMissingFileReturnsZeroValue(t *testing.T) {
	store, err := NewCredentialStore(t.TempDir())
	require.NoError(t, err)

	creds, err := store.Load()
	require.NoError(t, err)
	require.False(t, creds.SetupComplete)
	require.Empty(t, creds.ClientID)
}

func TestCredentialStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCredentialStore(dir)
	require.NoError(t, err)

	creds := &Credentials{
		ClientID:         "client-1",
		DeviceName:       "laptop",
		ServerURL:        "wss://sync.example.com",
		AuthToken:        "tok-abc",
		EncryptionKeyB64: "a2V5Ym9keQ==",
		LastSequence:     42,
		SetupComplete:    true,
		SyncSettings:     true,
	}
	require.NoError(t, store.Save(creds))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, creds, loaded)
}

func TestCredentialStorePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits don't apply")
	}
	dir := filepath.Join(t.TempDir(), "creds")
	store, err := NewCredentialStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(&Credentials{ClientID: "c"}))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(filepath.Join(dir, "credentials.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fileInfo.Mode().Perm())
}

func TestCredentialStoreClearSessionPreservesIdentity(t *testing.T) {
	store, err := NewCredentialStore(t.TempDir())
	require.NoError(t, err)

	creds := &Credentials{
		ClientID:         "client-1",
		DeviceName:       "laptop",
		ServerURL:        "wss://sync.example.com",
		AuthToken:        "tok-abc",
		EncryptionKeyB64: "a2V5Ym9keQ==",
		VaultSalt:        "c2FsdA==",
		LastSequence:     42,
		SetupComplete:    true,
		SyncSettings:     true,
	}

	cleared := store.ClearSession(creds)
	require.Empty(t, cleared.AuthToken)
	require.Empty(t, cleared.EncryptionKeyB64)
	require.Empty(t, cleared.VaultSalt)
	require.Equal(t, "client-1", cleared.ClientID)
	require.Equal(t, "laptop", cleared.DeviceName)
	require.Equal(t, "wss://sync.example.com", cleared.ServerURL)
	require.True(t, cleared.SetupComplete)
	require.True(t, cleared.SyncSettings)
	require.Equal(t, int64(42), cleared.LastSequence)
}
