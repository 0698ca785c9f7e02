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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Credentials is the client's single durable state map: identity, the
// current server session, the derived vault key, and the user's sync
// preferences.
type Credentials struct {
	ClientID   string `json:"clientId"`
	DeviceName string `json:"deviceName"`
	ServerURL  string `json:"serverUrl"`
	ServerID   string `json:"serverId"`

	AuthToken        string `json:"authToken"`
	EncryptionKeyB64 string `json:"encryptionKeyB64"`
	VaultSalt        string `json:"vaultSalt"`

	LastSequence  int64 `json:"lastSequence"`
	SetupComplete bool  `json:"setupComplete"`

	SyncWorkspace    bool     `json:"syncWorkspace"`
	SyncPlugins      bool     `json:"syncPlugins"`
	SyncSettings     bool     `json:"syncSettings"`
	SyncAllFileTypes bool     `json:"syncAllFileTypes"`
	ExcludePatterns  []string `json:"excludePatterns"`
}

// CredentialStore persists a single Credentials value as a JSON file under
// an owner-only directory, mirroring the permission discipline of a
// file-backed key store: 0700 directory, 0600 file.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewCredentialStore opens (creating if necessary) the credential file at
// filepath.Join(dir, "credentials.json").
func NewCredentialStore(dir string) (*CredentialStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("engine: create credential dir: %w", err)
	}
	return &CredentialStore{path: filepath.Join(dir, "credentials.json")}, nil
}

// Load reads the persisted Credentials. A missing file is not an error: it
// returns a zero-value Credentials (first run, setup not yet complete).
func (c *CredentialStore) Load() (*Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return &Credentials{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("engine: parse credentials: %w", err)
	}
	return &creds, nil
}

// Save overwrites the persisted Credentials.
func (c *CredentialStore) Save(creds *Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshal credentials: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("engine: write credentials: %w", err)
	}
	return nil
}

// ClearSession drops the token and key on a "Session revoked" AUTH_FAIL,
// leaving identity, server URL, setup-complete, and sync preferences
// untouched so the user only has to re-enter the password.
func (c *CredentialStore) ClearSession(creds *Credentials) *Credentials {
	creds.AuthToken = ""
	creds.EncryptionKeyB64 = ""
	creds.VaultSalt = ""
	return creds
}
