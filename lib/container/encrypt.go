// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/fieldvault/fieldvault/lib/secret"
)

// KeySize is the size of the data key and the derived payload key.
const KeySize = 32

// hkdfInfoPayload separates the payload key from any other key that
// might be derived from a data key in a later format version.
var hkdfInfoPayload = []byte("fieldvault.container.payload.v1")

// newDataKey returns a fresh random data key.
func newDataKey() (*secret.Buffer, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating data key: %w", err)
	}
	return secret.NewFromBytes(key)
}

// derivePayloadKey derives the AEAD key from the data key. The data
// key is borrowed.
func derivePayloadKey(dataKey *secret.Buffer, identity [32]byte) (*secret.Buffer, error) {
	if dataKey.Len() != KeySize {
		return nil, fmt.Errorf("data key must be %d bytes, got %d", KeySize, dataKey.Len())
	}
	info := make([]byte, 0, len(hkdfInfoPayload)+len(identity))
	info = append(info, hkdfInfoPayload...)
	info = append(info, identity[:]...)

	reader := hkdf.New(sha256.New, dataKey.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// sessionIdentity hashes the session id for use in key derivation and
// AAD.
func sessionIdentity(session string) [32]byte {
	return blake3.Sum256([]byte(session))
}

// payloadDigest is the integrity digest of the uncompressed payload.
func payloadDigest(payload []byte) []byte {
	sum := blake3.Sum256(payload)
	return sum[:]
}

func buildAAD(version byte, identity [32]byte) []byte {
	aad := make([]byte, 1+len(identity))
	aad[0] = version
	copy(aad[1:], identity[:])
	return aad
}

// sealPayload encrypts plaintext and returns the nonce and the
// ciphertext with its tag.
func sealPayload(plaintext []byte, payloadKey *secret.Buffer, version byte, identity [32]byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(payloadKey.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating random nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, buildAAD(version, identity))
	return nonce, ciphertext, nil
}

// openPayload authenticates and decrypts a payload sealed by
// sealPayload.
func openPayload(nonce, ciphertext []byte, payloadKey *secret.Buffer, version byte, identity [32]byte) ([]byte, error) {
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("nonce is %d bytes, expected %d", len(nonce), chacha20poly1305.NonceSizeX)
	}
	aead, err := chacha20poly1305.NewX(payloadKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(version, identity))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return plaintext, nil
}
