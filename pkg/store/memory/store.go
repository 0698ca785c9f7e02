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

// Package memory is an in-process store.Store used in tests and as the
// default fixture for the rest of the module.
package memory

import (
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/sage-x-project/sage/pkg/store"
)

// Store implements store.Store entirely in memory. A single writer mutex
// serializes sequence allocation and record writes; reads take the
// companion RWMutex's read lock.
type Store struct {
	mu   sync.RWMutex
	seq  int64
	recs map[string]store.FileRecord
	blob map[string][]byte

	vaultMu  sync.Mutex
	salt     []byte
	pwdHash  string

	tokMu  sync.Mutex
	tokens map[string]store.Token

	sessMu   sync.Mutex
	sessions map[string]store.ClientSession
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		recs:     make(map[string]store.FileRecord),
		blob:     make(map[string][]byte),
		tokens:   make(map[string]store.Token),
		sessions: make(map[string]store.ClientSession),
	}
}

func (s *Store) ChangeLog() store.ChangeLog             { return (*changeLog)(s) }
func (s *Store) VaultMeta() store.VaultMetaStore         { return (*vaultMeta)(s) }
func (s *Store) Tokens() store.TokenStore                { return (*tokenStore)(s) }
func (s *Store) ClientSessions() store.ClientSessionStore { return (*sessionStore)(s) }
func (s *Store) Close() error                            { return nil }

type changeLog Store

func (c *changeLog) asStore() *Store { return (*Store)(c) }

func (c *changeLog) PutFile(ctx context.Context, fileID, encryptedMeta string, mtime, size int64, blob []byte) (int64, error) {
	s := c.asStore()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec := store.FileRecord{
		FileID:        fileID,
		EncryptedMeta: encryptedMeta,
		Mtime:         mtime,
		Size:          size,
		Deleted:       false,
		Sequence:      s.seq,
	}
	s.recs[fileID] = rec
	if blob != nil {
		s.blob[fileID] = blob
	}
	return s.seq, nil
}

func (c *changeLog) DeleteFile(ctx context.Context, fileID string) (int64, error) {
	s := c.asStore()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec, existed := s.recs[fileID]
	if !existed {
		rec = store.FileRecord{FileID: fileID}
	}
	rec.Deleted = true
	rec.Sequence = s.seq
	s.recs[fileID] = rec
	delete(s.blob, fileID)
	return s.seq, nil
}

func (c *changeLog) GetFileMeta(ctx context.Context, fileID string) (*store.FileRecord, error) {
	s := c.asStore()
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[fileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (c *changeLog) GetBlob(ctx context.Context, fileID string) ([]byte, error) {
	s := c.asStore()
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blob[fileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (c *changeLog) GetManifest(ctx context.Context) (*store.Manifest, error) {
	s := c.asStore()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []store.FileRecord
	for _, rec := range s.recs {
		if !rec.Deleted {
			entries = append(entries, rec)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	return &store.Manifest{Entries: entries, Sequence: s.seq}, nil
}

func (c *changeLog) GetChangesSince(ctx context.Context, since int64) ([]store.FileRecord, error) {
	s := c.asStore()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.FileRecord
	for _, rec := range s.recs {
		if rec.Sequence > since {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (c *changeLog) GetCurrentSequence(ctx context.Context) (int64, error) {
	s := c.asStore()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, nil
}

func (c *changeLog) Stats(ctx context.Context) (*store.Stats, error) {
	s := c.asStore()
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &store.Stats{Sequence: s.seq}
	for _, rec := range s.recs {
		if !rec.Deleted {
			st.TotalFiles++
			st.TotalSize += rec.Size
		}
	}
	return st, nil
}

func (c *changeLog) Reset(ctx context.Context) error {
	s := c.asStore()
	s.mu.Lock()
	s.recs = make(map[string]store.FileRecord)
	s.blob = make(map[string][]byte)
	s.seq = 0
	s.mu.Unlock()

	s.tokMu.Lock()
	s.tokens = make(map[string]store.Token)
	s.tokMu.Unlock()

	s.sessMu.Lock()
	s.sessions = make(map[string]store.ClientSession)
	s.sessMu.Unlock()

	s.vaultMu.Lock()
	s.salt = nil
	s.pwdHash = ""
	s.vaultMu.Unlock()
	return nil
}

func (c *changeLog) Close() error { return nil }

type vaultMeta Store

func (v *vaultMeta) asStore() *Store { return (*Store)(v) }

func (v *vaultMeta) GetOrCreateSalt(ctx context.Context) ([]byte, error) {
	s := v.asStore()
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()

	if s.salt == nil {
		salt := make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		s.salt = salt
	}
	out := make([]byte, len(s.salt))
	copy(out, s.salt)
	return out, nil
}

func (v *vaultMeta) GetPasswordHash(ctx context.Context) (string, error) {
	s := v.asStore()
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()
	return s.pwdHash, nil
}

func (v *vaultMeta) SetPasswordHash(ctx context.Context, hash string) error {
	s := v.asStore()
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()

	if s.pwdHash != "" {
		return store.ErrAlreadyInitialized
	}
	s.pwdHash = hash
	return nil
}

type tokenStore Store

func (t *tokenStore) asStore() *Store { return (*Store)(t) }

func (t *tokenStore) Create(ctx context.Context, tok *store.Token) error {
	s := t.asStore()
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	s.tokens[tok.Token] = *tok
	return nil
}

func (t *tokenStore) Get(ctx context.Context, token string) (*store.Token, error) {
	s := t.asStore()
	s.tokMu.Lock()
	defer s.tokMu.Unlock()

	tok, ok := s.tokens[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := tok
	return &out, nil
}

func (t *tokenStore) Touch(ctx context.Context, token string) error {
	s := t.asStore()
	s.tokMu.Lock()
	defer s.tokMu.Unlock()

	tok, ok := s.tokens[token]
	if !ok {
		return store.ErrNotFound
	}
	tok.LastUsed = time.Now()
	s.tokens[token] = tok
	return nil
}

func (t *tokenStore) DeleteByClientID(ctx context.Context, clientID string) error {
	s := t.asStore()
	s.tokMu.Lock()
	defer s.tokMu.Unlock()

	for k, tok := range s.tokens {
		if tok.ClientID == clientID {
			delete(s.tokens, k)
		}
	}
	return nil
}

type sessionStore Store

func (c *sessionStore) asStore() *Store { return (*Store)(c) }

func (c *sessionStore) Upsert(ctx context.Context, sess *store.ClientSession) error {
	s := c.asStore()
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	existing, ok := s.sessions[sess.ClientID]
	if ok && existing.FirstSeen.Before(sess.FirstSeen) {
		sess.FirstSeen = existing.FirstSeen
	}
	s.sessions[sess.ClientID] = *sess
	return nil
}

func (c *sessionStore) SetOnline(ctx context.Context, clientID string, online bool) error {
	s := c.asStore()
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	sess, ok := s.sessions[clientID]
	if !ok {
		return store.ErrNotFound
	}
	sess.Online = online
	sess.LastSeen = time.Now()
	s.sessions[clientID] = sess
	return nil
}

func (c *sessionStore) List(ctx context.Context) ([]store.ClientSession, error) {
	s := c.asStore()
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	out := make([]store.ClientSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out, nil
}
