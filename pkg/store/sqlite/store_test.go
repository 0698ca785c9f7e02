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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "vault.db"), filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSqliteStorePutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	cl := s.ChangeLog()

	seq, err := cl.PutFile(ctx, "f1", "meta1", 1000, 5, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)

	rec, err := cl.GetFileMeta(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, "meta1", rec.EncryptedMeta)

	blob, err := cl.GetBlob(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), blob)
}

func TestSqliteStoreVaultMetaInitializeOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vm := s.VaultMeta()

	require.NoError(t, vm.SetPasswordHash(ctx, "deadbeef"))
	require.ErrorIs(t, vm.SetPasswordHash(ctx, "other"), store.ErrAlreadyInitialized)

	salt1, err := vm.GetOrCreateSalt(ctx)
	require.NoError(t, err)
	salt2, err := vm.GetOrCreateSalt(ctx)
	require.NoError(t, err)
	require.Equal(t, salt1, salt2)
}

func TestSqliteStoreSequenceMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	cl := s.ChangeLog()

	_, err := cl.PutFile(ctx, "f1", "m", 1, 1, nil)
	require.NoError(t, err)
	_, err = cl.PutFile(ctx, "f2", "m", 1, 1, nil)
	require.NoError(t, err)
	seq, err := cl.DeleteFile(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, int64(3), seq)

	changes, err := cl.GetChangesSince(ctx, 1)
	require.NoError(t, err)
	require.Len(t, changes, 2)
}
