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

// Package auth implements the server's password-hash verification with
// per-IP rate limiting and the opaque session-token lifecycle. It owns no
// durable state of its own beyond an in-memory rate limiter; tokens and the
// password hash are persisted through store.Store.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/internal/metrics"
	"github.com/sage-x-project/sage/pkg/store"
)

const (
	rateLimitWindow    = 60 * time.Second
	rateLimitThreshold = 5
	tokenBytes         = 32
)

var (
	// ErrAlreadyInitialized mirrors store.ErrAlreadyInitialized for callers
	// that only import pkg/auth.
	ErrAlreadyInitialized = store.ErrAlreadyInitialized
	// ErrInvalidHash is returned by Initialize when the hash is not 64
	// lowercase hex characters.
	ErrInvalidHash = errors.New("auth: password hash must be 64 lowercase hex characters")
	// ErrRateLimited is returned by VerifyPassword once an IP has exceeded
	// the failure threshold inside the current window.
	ErrRateLimited = errors.New("auth: rate limited")
	// ErrInvalidPassword is returned by VerifyPassword on a hash mismatch.
	ErrInvalidPassword = errors.New("auth: invalid password")
	// ErrInvalidToken is returned by ValidateToken when the token is
	// unknown.
	ErrInvalidToken = errors.New("auth: invalid token")
)

type rateEntry struct {
	failures int
	resetAt  time.Time
}

// Service implements the session & auth lifecycle: initialize,
// verifyPassword, issueToken, validateToken, revokeByClientId.
type Service struct {
	store store.Store

	mu      sync.Mutex
	limiter map[string]*rateEntry
}

// New builds an auth Service backed by st.
func New(st store.Store) *Service {
	return &Service{
		store:   st,
		limiter: make(map[string]*rateEntry),
	}
}

// Initialize stores the server's password hash. It fails with
// ErrAlreadyInitialized if a hash is already stored, and ErrInvalidHash if
// passwordHashHex is not well-formed.
func (s *Service) Initialize(ctx context.Context, passwordHashHex string) error {
	if !isHex64(passwordHashHex) {
		return ErrInvalidHash
	}
	if err := s.store.VaultMeta().SetPasswordHash(ctx, passwordHashHex); err != nil {
		if errors.Is(err, store.ErrAlreadyInitialized) {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("auth: initialize: %w", err)
	}
	return nil
}

// VerifyPassword constant-time compares clientHash against the stored
// password hash, tracking failures per-IP over a 60s window with a
// threshold of 5. On a match the IP's failure entry is cleared.
func (s *Service) VerifyPassword(ctx context.Context, clientHash, ip string) error {
	if s.rateLimited(ip) {
		return ErrRateLimited
	}

	stored, err := s.store.VaultMeta().GetPasswordHash(ctx)
	if err != nil {
		return fmt.Errorf("auth: load password hash: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(clientHash), []byte(stored)) != 1 {
		s.recordFailure(ip)
		metrics.AuthFailures.WithLabelValues("bad_password").Inc()
		return ErrInvalidPassword
	}

	s.clearFailures(ip)
	return nil
}

func (s *Service) rateLimited(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.limiter[ip]
	if !ok {
		return false
	}
	if time.Now().After(entry.resetAt) {
		delete(s.limiter, ip)
		return false
	}
	return entry.failures >= rateLimitThreshold
}

func (s *Service) recordFailure(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// resetAt is set once per window and not pushed out by later failures
	// inside it; a burst of attempts still unlocks rateLimitWindow after
	// the first one, it doesn't get a fresh 60s on every attempt.
	entry, ok := s.limiter[ip]
	now := time.Now()
	if !ok || now.After(entry.resetAt) {
		entry = &rateEntry{resetAt: now.Add(rateLimitWindow)}
		s.limiter[ip] = entry
	}
	entry.failures++
	if entry.failures >= rateLimitThreshold {
		metrics.AuthFailures.WithLabelValues("rate_limited").Inc()
	}
}

func (s *Service) clearFailures(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limiter, ip)
}

// IssueToken revokes every prior token for clientID, mints a fresh random
// 64-hex-char token, and persists it.
func (s *Service) IssueToken(ctx context.Context, clientID, deviceName, ip string) (*store.Token, error) {
	if err := s.store.Tokens().DeleteByClientID(ctx, clientID); err != nil {
		return nil, fmt.Errorf("auth: revoke prior tokens: %w", err)
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("auth: generate token: %w", err)
	}
	now := time.Now()
	tok := &store.Token{
		Token:      hex.EncodeToString(raw),
		ClientID:   clientID,
		DeviceName: deviceName,
		IP:         ip,
		CreatedAt:  now,
		LastUsed:   now,
	}
	if err := s.store.Tokens().Create(ctx, tok); err != nil {
		return nil, fmt.Errorf("auth: persist token: %w", err)
	}
	metrics.TokensIssued.Inc()
	logger.Info("issued session token", logger.String("clientId", clientID), logger.String("deviceName", deviceName))
	return tok, nil
}

// ValidateToken looks up token in constant time relative to storage
// lookups (the comparison itself is a map/index lookup, not a secret
// comparison loop) and refreshes LastUsed on a hit.
func (s *Service) ValidateToken(ctx context.Context, token string) (*store.Token, error) {
	tok, err := s.store.Tokens().Get(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("auth: lookup token: %w", err)
	}
	if err := s.store.Tokens().Touch(ctx, token); err != nil {
		return nil, fmt.Errorf("auth: touch token: %w", err)
	}
	return tok, nil
}

// RevokeByClientID removes every token belonging to clientID, used both by
// CLIENT_KICK and by password rotation.
func (s *Service) RevokeByClientID(ctx context.Context, clientID string) error {
	return s.store.Tokens().DeleteByClientID(ctx, clientID)
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
