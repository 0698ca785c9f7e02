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

package store

import "time"

// FileRecord is one entry in the change-log: {fileID -> (metadata, blob,
// sequence, tombstone)}. The server treats EncryptedMeta, Mtime, and Size
// as opaque client-supplied data; it never inspects them.
type FileRecord struct {
	FileID        string `json:"fileId" gorm:"primaryKey;size:64"`
	EncryptedMeta string `json:"encryptedMeta"`
	Mtime         int64  `json:"mtime"`
	Size          int64  `json:"size"`
	Deleted       bool   `json:"deleted"`
	Sequence      int64  `json:"sequence" gorm:"index"`
}

// VaultMeta is the single-row table holding the vault salt and the server
// password hash. It is created lazily: the salt on first successful auth,
// the password hash on first initialize.
type VaultMeta struct {
	ID             int    `gorm:"primaryKey"`
	VaultSaltB64   string `json:"vaultSaltB64"`
	PasswordHash   string `json:"passwordHash"`
	ServerIDHex    string `json:"serverIdHex"`
}

// Token is a session token issued to a client device.
type Token struct {
	Token      string    `json:"token" gorm:"primaryKey;size:64"`
	ClientID   string    `json:"clientId" gorm:"index"`
	DeviceName string    `json:"deviceName"`
	IP         string    `json:"ip"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsed   time.Time `json:"lastUsed"`
}

// ClientSession is the persisted device history row: it survives
// disconnection so the dashboard can show past devices.
type ClientSession struct {
	ClientID   string    `json:"clientId" gorm:"primaryKey;size:128"`
	DeviceName string    `json:"deviceName"`
	IP         string    `json:"ip"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
	Online     bool      `json:"online"`
}

// Manifest is the server's live file set plus the sequence cursor a client
// should persist after a full sync.
type Manifest struct {
	Entries  []FileRecord
	Sequence int64
}

// Stats is the dashboard's summary of store contents.
type Stats struct {
	TotalFiles int64
	TotalSize  int64
	Sequence   int64
}
