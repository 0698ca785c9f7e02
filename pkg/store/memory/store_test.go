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

package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage/pkg/store"
)

func TestPutFileAllocatesIncreasingSequence(t *testing.T) {
	ctx := context.Background()
	s := New()
	cl := s.ChangeLog()

	seq1, err := cl.PutFile(ctx, "f1", "meta1", 1000, 5, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)

	seq2, err := cl.PutFile(ctx, "f2", "meta2", 1000, 5, []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)

	cur, err := cl.GetCurrentSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur)
}

func TestDeleteFileTombstones(t *testing.T) {
	ctx := context.Background()
	s := New()
	cl := s.ChangeLog()

	_, err := cl.PutFile(ctx, "f1", "meta1", 1000, 5, []byte("hello"))
	require.NoError(t, err)

	seq, err := cl.DeleteFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	rec, err := cl.GetFileMeta(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, rec.Deleted)

	_, err = cl.GetBlob(ctx, "f1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetChangesSinceOrderedIncludesTombstones(t *testing.T) {
	ctx := context.Background()
	s := New()
	cl := s.ChangeLog()

	_, _ = cl.PutFile(ctx, "f1", "m1", 1000, 1, nil) // seq 1
	_, _ = cl.PutFile(ctx, "f2", "m2", 1000, 1, nil) // seq 2
	_, _ = cl.DeleteFile(ctx, "f1")                   // seq 3

	changes, err := cl.GetChangesSince(ctx, 1)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, int64(2), changes[0].Sequence)
	assert.Equal(t, int64(3), changes[1].Sequence)
	assert.True(t, changes[1].Deleted)
}

func TestGetManifestExcludesTombstones(t *testing.T) {
	ctx := context.Background()
	s := New()
	cl := s.ChangeLog()

	_, _ = cl.PutFile(ctx, "f1", "m1", 1000, 1, nil)
	_, _ = cl.PutFile(ctx, "f2", "m2", 1000, 1, nil)
	_, _ = cl.DeleteFile(ctx, "f1")

	manifest, err := cl.GetManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), manifest.Sequence)
	require.Len(t, manifest.Entries, 1)
	assert.Equal(t, "f2", manifest.Entries[0].FileID)
}

func TestConcurrentPutFilesAllocateDistinctSequences(t *testing.T) {
	ctx := context.Background()
	s := New()
	cl := s.ChangeLog()

	const n = 50
	var wg sync.WaitGroup
	seqs := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := cl.PutFile(ctx, "shared-file", "meta", int64(i), 1, nil)
			require.NoError(t, err)
			seqs[i] = seq
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, seq := range seqs {
		assert.False(t, seen[seq], "sequence %d allocated twice", seq)
		seen[seq] = true
	}

	rec, err := cl.GetFileMeta(ctx, "shared-file")
	require.NoError(t, err)
	assert.False(t, rec.Deleted)
}

func TestVaultMetaInitializeOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	vm := s.VaultMeta()

	require.NoError(t, vm.SetPasswordHash(ctx, "deadbeef"))
	err := vm.SetPasswordHash(ctx, "anotherhash")
	assert.ErrorIs(t, err, store.ErrAlreadyInitialized)

	hash, err := vm.GetPasswordHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", hash)
}

func TestVaultMetaSaltStable(t *testing.T) {
	ctx := context.Background()
	s := New()
	vm := s.VaultMeta()

	salt1, err := vm.GetOrCreateSalt(ctx)
	require.NoError(t, err)
	salt2, err := vm.GetOrCreateSalt(ctx)
	require.NoError(t, err)
	assert.Equal(t, salt1, salt2)
	assert.Len(t, salt1, 32)
}

func TestTokenIssueAndRevoke(t *testing.T) {
	ctx := context.Background()
	s := New()
	toks := s.Tokens()

	require.NoError(t, toks.Create(ctx, &store.Token{Token: "tok1", ClientID: "c1"}))
	got, err := toks.Get(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)

	require.NoError(t, toks.DeleteByClientID(ctx, "c1"))
	_, err = toks.Get(ctx, "tok1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	s := New()
	cl := s.ChangeLog()
	_, _ = cl.PutFile(ctx, "f1", "m1", 1000, 1, []byte("x"))
	require.NoError(t, s.Tokens().Create(ctx, &store.Token{Token: "t", ClientID: "c"}))

	require.NoError(t, cl.Reset(ctx))

	cur, err := cl.GetCurrentSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur)

	_, err = s.Tokens().Get(ctx, "t")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
