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

package cryptoutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *Key {
	t.Helper()
	return DeriveKey("correct horse battery staple", []byte("fixed-test-salt-0123456789ab"))
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("a-fixed-salt-value-32-bytes-ok!!")
	k1 := DeriveKey("hunter2", salt)
	k2 := DeriveKey("hunter2", salt)
	assert.Equal(t, k1.Raw(), k2.Raw())

	k3 := DeriveKey("different", salt)
	assert.NotEqual(t, k1.Raw(), k3.Raw())
}

func TestDeriveFileID(t *testing.T) {
	key := testKey(t)

	t.Run("Deterministic", func(t *testing.T) {
		id1 := DeriveFileID("notes/a.md", key)
		id2 := DeriveFileID("notes/a.md", key)
		assert.Equal(t, id1, id2)
		assert.Len(t, id1, 64)
	})

	t.Run("DistinctPaths", func(t *testing.T) {
		id1 := DeriveFileID("notes/a.md", key)
		id2 := DeriveFileID("notes/b.md", key)
		assert.NotEqual(t, id1, id2)
	})

	t.Run("DistinctKeys", func(t *testing.T) {
		other := DeriveKey("another password", []byte("a-fixed-salt-value-32-bytes-ok!!"))
		id1 := DeriveFileID("notes/a.md", key)
		id2 := DeriveFileID("notes/a.md", other)
		assert.NotEqual(t, id1, id2)
	})
}

func TestEncryptDecryptBlobRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ct, err := EncryptBlob(plaintext, key)
	require.NoError(t, err)

	pt, err := DecryptBlob(ct, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestEncryptBlobFreshIVPerCall(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same plaintext every time")

	ct1, err := EncryptBlob(plaintext, key)
	require.NoError(t, err)
	ct2, err := EncryptBlob(plaintext, key)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(ct1, ct2), "ciphertexts must differ across calls due to fresh IVs")
}

func TestDecryptBlobWrongKeyFails(t *testing.T) {
	key := testKey(t)
	other := DeriveKey("wrong password", []byte("a-fixed-salt-value-32-bytes-ok!!"))

	ct, err := EncryptBlob([]byte("secret"), key)
	require.NoError(t, err)

	_, err = DecryptBlob(ct, other)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptBlobTruncatedInput(t *testing.T) {
	key := testKey(t)
	_, err := DecryptBlob([]byte("short"), key)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEncryptDecryptMetaRoundTrip(t *testing.T) {
	key := testKey(t)
	meta := []byte(`{"path":"notes/a.md"}`)

	enc, err := EncryptMeta(meta, key)
	require.NoError(t, err)

	dec, err := DecryptMeta(enc, key)
	require.NoError(t, err)
	assert.Equal(t, meta, dec)
}

func TestDecryptMetaBadBase64(t *testing.T) {
	key := testKey(t)
	_, err := DecryptMeta("not-valid-base64!!!", key)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestSHA256Hex(t *testing.T) {
	h1 := SHA256HexString("correct horse battery staple")
	h2 := SHA256HexString("correct horse battery staple")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, SHA256HexString("something else"))
}

func TestKeyFromRawRoundTrip(t *testing.T) {
	key := testKey(t)
	restored, err := KeyFromRaw(key.Raw())
	require.NoError(t, err)
	assert.Equal(t, key.Raw(), restored.Raw())

	_, err = KeyFromRaw([]byte("too short"))
	assert.Error(t, err)
}
