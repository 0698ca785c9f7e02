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

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get-style lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyInitialized guards VaultMeta.SetPasswordHash: it only ever
// succeeds once.
var ErrAlreadyInitialized = errors.New("store: vault already initialized")

// ChangeLog is the server's durable {fileID -> record} table plus its
// content-addressed blob directory. A single implementation is safe for
// concurrent use by many dispatcher goroutines: writes serialize through
// the implementation's own transaction/lock, reads run concurrently.
type ChangeLog interface {
	// PutFile upserts the record for fileID, allocates the next sequence,
	// clears its tombstone flag, and returns the allocated sequence. The
	// blob write happens after and may fail independently.
	PutFile(ctx context.Context, fileID, encryptedMeta string, mtime, size int64, blob []byte) (int64, error)

	// DeleteFile tombstones fileID, allocating a fresh sequence, and
	// unlinks its blob (errors from the unlink are ignored).
	DeleteFile(ctx context.Context, fileID string) (int64, error)

	// GetFileMeta returns the record for fileID, or ErrNotFound.
	GetFileMeta(ctx context.Context, fileID string) (*FileRecord, error)

	// GetBlob returns the raw blob bytes for fileID, or ErrNotFound.
	GetBlob(ctx context.Context, fileID string) ([]byte, error)

	// GetManifest returns every non-deleted record plus the current
	// sequence, for a client's full (lastSequence==0) sync.
	GetManifest(ctx context.Context) (*Manifest, error)

	// GetChangesSince returns every record (including tombstones) with
	// sequence > since, ordered ascending.
	GetChangesSince(ctx context.Context, since int64) ([]FileRecord, error)

	// GetCurrentSequence returns the highest sequence allocated so far.
	GetCurrentSequence(ctx context.Context) (int64, error)

	// Stats summarizes store contents for the dashboard.
	Stats(ctx context.Context) (*Stats, error)

	// Reset drops every record, blob, token, and session row, and clears
	// the vault salt and password hash. Used by POST /api/reset.
	Reset(ctx context.Context) error

	Close() error
}

// VaultMetaStore holds the vault-wide salt and server password hash.
type VaultMetaStore interface {
	// GetOrCreateSalt returns the persisted 32-byte vault salt, creating a
	// fresh random one on first call.
	GetOrCreateSalt(ctx context.Context) ([]byte, error)

	// GetPasswordHash returns the stored hash, or "" if uninitialized.
	GetPasswordHash(ctx context.Context) (string, error)

	// SetPasswordHash stores hash iff no hash is currently stored;
	// otherwise returns ErrAlreadyInitialized.
	SetPasswordHash(ctx context.Context, hash string) error
}

// TokenStore holds issued session tokens.
type TokenStore interface {
	Create(ctx context.Context, tok *Token) error
	Get(ctx context.Context, token string) (*Token, error)
	Touch(ctx context.Context, token string) error
	DeleteByClientID(ctx context.Context, clientID string) error
}

// ClientSessionStore holds device connect/disconnect history.
type ClientSessionStore interface {
	Upsert(ctx context.Context, sess *ClientSession) error
	SetOnline(ctx context.Context, clientID string, online bool) error
	List(ctx context.Context) ([]ClientSession, error)
}

// Store composes every sub-store a sync server needs.
type Store interface {
	ChangeLog() ChangeLog
	VaultMeta() VaultMetaStore
	Tokens() TokenStore
	ClientSessions() ClientSessionStore
	Close() error
}
