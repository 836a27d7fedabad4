// Copyright 2026 The Calimero Authors
// This file is part of Calimero.
//
// Calimero is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Calimero is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Calimero. If not, see <http://www.gnu.org/licenses/>.

// Package identity is the identity & crypto layer (component F): Ed25519
// keypairs, Curve25519-derived shared keys, AES-256-GCM AEAD, matching
// _examples/original_source/crates/crypto/src/lib.rs field for field (that
// crate uses ring + ed25519_dalek + curve25519_dalek; this package uses
// stdlib crypto/ed25519, filippo.io/edwards25519 for the Edwards-point
// scalar multiplication and stdlib crypto/cipher, which are the idiomatic
// Go equivalents of the same primitives). The ephemeral X25519 exchange
// used by the sync package's handshake (golang.org/x/crypto/curve25519)
// is a separate, unrelated key agreement — see internal/sync/handshake.go.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"

	"filippo.io/edwards25519"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/types"
)

// NonceSize is the AES-256-GCM nonce length used throughout (spec.md §4.F).
const NonceSize = 12

// KeyPair is an Ed25519 signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a fresh Ed25519 keypair via the OS CSPRNG.
func Generate() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, calerr.Wrap(calerr.StorageError, "generate keypair", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// PublicKey returns the 32-byte representation used across the core.
func (k KeyPair) PublicKey() types.PublicKey {
	var pk types.PublicKey
	copy(pk[:], k.Public)
	return pk
}

// Sign signs msg with this keypair's private key.
func (k KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify checks sig against msg under pub.
func Verify(pub types.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// SharedKey is the symmetric key derived between two Ed25519 identities via
// scalar multiplication on the Edwards curve underlying Ed25519/Curve25519
// (spec.md §4.F):
//
//	SharedKey(A,B) = compress(scalar(A.secret) . decompress(B.public))
//
// ed25519's private key hashes to a clamped scalar exactly as the original
// Rust crate's `sk.to_scalar()` does (RFC 8032 §5.1.5): SHA-512 the 32-byte
// seed, clamp the low 32 bytes. The peer's Ed25519 public key (an Edwards
// point) is used directly as the multiplication operand via
// filippo.io/edwards25519, the same birational-equivalence trick
// curve25519_dalek's CompressedEdwardsY::decompress relies on upstream.
type SharedKey [32]byte

// Derive computes SharedKey(self, peer): the key one identity uses to talk
// to another. Both sides computing Derive with their own private key and
// the other's public key converge on the same SharedKey.
func Derive(self KeyPair, peer types.PublicKey) (SharedKey, error) {
	scalar, err := clampedScalar(self.Private)
	if err != nil {
		return SharedKey{}, err
	}
	point, err := new(edwards25519.Point).SetBytes(peer[:])
	if err != nil {
		return SharedKey{}, calerr.Wrap(calerr.InvalidArgument, "invalid peer public key", err)
	}
	product := new(edwards25519.Point).ScalarMult(scalar, point)
	var key SharedKey
	copy(key[:], product.Bytes())
	return key, nil
}

func clampedScalar(priv ed25519.PrivateKey) (*edwards25519.Scalar, error) {
	// priv is seed(32) ‖ pub(32); RFC 8032 derives the signing scalar from
	// SHA-512(seed), clamped.
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	// SetBytesWithClamping performs the RFC 8032 §5.1.5 clamp itself.
	s, err := new(edwards25519.Scalar).SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "clamp scalar", err)
	}
	return s, nil
}

// Encrypt seals payload under key with nonce, AES-256-GCM, empty AAD
// (spec.md §4.F).
func (k SharedKey) Encrypt(payload []byte, nonce [NonceSize]byte) ([]byte, error) {
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce[:], payload, nil), nil
}

// Decrypt opens ciphertext under key with nonce. Returns an
// IntegrityViolation error if authentication fails or the key is wrong.
func (k SharedKey) Decrypt(ciphertext []byte, nonce [NonceSize]byte) ([]byte, error) {
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, calerr.Wrap(calerr.IntegrityViolation, "AEAD authentication failed", err)
	}
	return plain, nil
}

func (k SharedKey) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "aes cipher init", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "gcm init", err)
	}
	return gcm, nil
}

// RandomNonce draws a fresh CSPRNG nonce. It is used for every Delta's
// payload nonce (sync.SealDeltaActions), for stream NextNonce values and
// for handshakes; random_bytes inside a mutating WASM call comes from
// runtime.Env.DeterministicRandom instead.
func RandomNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, calerr.Wrap(calerr.StorageError, "read random nonce", err)
	}
	return n, nil
}
