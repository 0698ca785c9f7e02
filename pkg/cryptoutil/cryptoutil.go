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

// Package cryptoutil implements the vault's cryptographic primitives:
// password-derived key material, per-file identifiers, and AES-256-GCM
// encryption of blobs and metadata. The server never holds a derived key;
// everything in this package runs on the client only.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the cost factor for deriveKey. 210000 matches
	// OWASP's 2023 PBKDF2-SHA512 recommendation.
	PBKDF2Iterations = 210000
	keyBits          = 256
	keyBytes         = keyBits / 8
	ivBytes          = 12
)

// ErrDecrypt is returned by DecryptBlob/DecryptMeta on any failure: tag
// mismatch, truncated input, or bad base64/encoding.
var ErrDecrypt = errors.New("cryptoutil: decryption failed")

// Key is the 256-bit vault key derived from the user's password. It is
// also used, via its raw bits, as the HMAC key for file-ID derivation.
type Key struct {
	raw []byte

	mu      sync.Mutex
	hmacKey []byte // cached raw bits, avoids re-deriving on every call
}

// DeriveKey runs PBKDF2-HMAC-SHA512 over password/salt and returns the
// resulting 256-bit key. This is the dominant cost in the auth path, which
// is why Key caches its raw bits for reuse as an HMAC key.
func DeriveKey(password string, salt []byte) *Key {
	raw := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, keyBytes, sha512.New)
	return &Key{raw: raw}
}

// KeyFromRaw wraps previously-derived raw key bytes (e.g. loaded from the
// client's persisted config) without re-running PBKDF2.
func KeyFromRaw(raw []byte) (*Key, error) {
	if len(raw) != keyBytes {
		return nil, fmt.Errorf("cryptoutil: key must be %d bytes, got %d", keyBytes, len(raw))
	}
	out := make([]byte, keyBytes)
	copy(out, raw)
	return &Key{raw: out}, nil
}

// Raw returns the key's raw bytes, for persistence as base64 alongside the
// client's other durable state (see pkg/engine).
func (k *Key) Raw() []byte {
	out := make([]byte, len(k.raw))
	copy(out, k.raw)
	return out
}

func (k *Key) rawHMACKey() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.hmacKey == nil {
		k.hmacKey = make([]byte, len(k.raw))
		copy(k.hmacKey, k.raw)
	}
	return k.hmacKey
}

func (k *Key) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.raw)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// DeriveFileID computes the opaque, deterministic file identifier for path
// under key: lowercase hex of HMAC-SHA256(key.raw, utf8(path)).
func DeriveFileID(path string, key *Key) string {
	mac := hmac.New(sha256.New, key.rawHMACKey())
	mac.Write([]byte(path))
	return hex.EncodeToString(mac.Sum(nil))
}

// EncryptBlob encrypts plaintext under key with a fresh random 96-bit IV,
// returning raw bytes laid out as iv‖ciphertext‖tag.
func EncryptBlob(plaintext []byte, key *Key) ([]byte, error) {
	gcm, err := key.gcm()
	if err != nil {
		return nil, err
	}
	iv := make([]byte, ivBytes)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("cryptoutil: iv: %w", err)
	}
	return gcm.Seal(iv, iv, plaintext, nil), nil
}

// DecryptBlob reverses EncryptBlob. It fails with ErrDecrypt on tag
// mismatch, truncated input, or any other malformed ciphertext.
func DecryptBlob(ciphertext []byte, key *Key) ([]byte, error) {
	gcm, err := key.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < ivBytes+gcm.Overhead() {
		return nil, ErrDecrypt
	}
	iv, ct := ciphertext[:ivBytes], ciphertext[ivBytes:]
	pt, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// EncryptMeta is EncryptBlob's text-frame-friendly counterpart: the raw
// iv‖ciphertext‖tag is base64-encoded for embedding in JSON messages.
func EncryptMeta(plaintext []byte, key *Key) (string, error) {
	raw, err := EncryptBlob(plaintext, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecryptMeta reverses EncryptMeta.
func DecryptMeta(encoded string, key *Key) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecrypt
	}
	return DecryptBlob(raw, key)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data. Used both for
// the server password hash and as a convenience in tests.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256HexString is SHA256Hex for a string input, the common case of
// hashing a user-entered password before it ever reaches the wire.
func SHA256HexString(s string) string {
	return SHA256Hex([]byte(s))
}
