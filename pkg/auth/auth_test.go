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

package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage/pkg/cryptoutil"
	"github.com/sage-x-project/sage/pkg/store/memory"
)

const testHash = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8" // sha256("password")

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(memory.New())
}

func TestInitializeOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	require.NoError(t, s.Initialize(ctx, testHash))
	err := s.Initialize(ctx, testHash)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeRejectsMalformedHash(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	assert.ErrorIs(t, s.Initialize(ctx, "not-hex"), ErrInvalidHash)
	assert.ErrorIs(t, s.Initialize(ctx, strings.ToUpper(testHash)), ErrInvalidHash)
}

func TestVerifyPasswordSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	require.NoError(t, s.Initialize(ctx, testHash))

	assert.NoError(t, s.VerifyPassword(ctx, testHash, "10.0.0.1"))
}

func TestVerifyPasswordWrongHash(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	require.NoError(t, s.Initialize(ctx, testHash))

	wrong := cryptoutil.SHA256HexString("not the password")
	err := s.VerifyPassword(ctx, wrong, "10.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestVerifyPasswordRateLimitsPerIP(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	require.NoError(t, s.Initialize(ctx, testHash))

	wrong := cryptoutil.SHA256HexString("not the password")
	for i := 0; i < 5; i++ {
		err := s.VerifyPassword(ctx, wrong, "10.0.0.2")
		assert.ErrorIs(t, err, ErrInvalidPassword)
	}

	err := s.VerifyPassword(ctx, wrong, "10.0.0.2")
	assert.ErrorIs(t, err, ErrRateLimited)

	// A different IP is unaffected.
	assert.NoError(t, s.VerifyPassword(ctx, testHash, "10.0.0.3"))
}

func TestIssueTokenRevokesPrior(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	tok1, err := s.IssueToken(ctx, "client-1", "laptop", "10.0.0.1")
	require.NoError(t, err)

	tok2, err := s.IssueToken(ctx, "client-1", "laptop", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEqual(t, tok1.Token, tok2.Token)

	_, err = s.ValidateToken(ctx, tok1.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	got, err := s.ValidateToken(ctx, tok2.Token)
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ClientID)
}

func TestRevokeByClientID(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	tok, err := s.IssueToken(ctx, "client-1", "laptop", "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, s.RevokeByClientID(ctx, "client-1"))

	_, err = s.ValidateToken(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
