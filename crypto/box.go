// Copyright (C) 2026 adb-toolkit project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package crypto implements the key agreement and request signing
// primitives the agent uses for peer pairing: P-256 ECDH, HMAC-SHA256
// request signatures, and the human-comparable confirmation code.
package crypto

import (
	"bytes"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrInvalidPublicKey is returned when peer key bytes do not decode
	// to a point on P-256.
	ErrInvalidPublicKey = errors.New("crypto: invalid peer public key")

	// ErrInvalidPrivateKey is returned when persisted key material does
	// not decode to a P-256 private key.
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key")
)

// KeyPair holds the agent's long-lived P-256 key pair. The public key is
// exchanged during pairing as an uncompressed EC point; the private key
// never leaves the device.
type KeyPair struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
}

// GenerateKeyPair generates a new P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key: %w", err)
	}
	return &KeyPair{privateKey: priv, publicKey: priv.PublicKey()}, nil
}

// KeyPairFromPKCS8 restores a key pair from persisted PKCS#8 DER bytes.
func KeyPairFromPKCS8(der []byte) (*KeyPair, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	type ecdhable interface {
		ECDH() (*ecdh.PrivateKey, error)
	}
	ec, ok := parsed.(ecdhable)
	if !ok {
		return nil, ErrInvalidPrivateKey
	}
	priv, err := ec.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if priv.Curve() != ecdh.P256() {
		return nil, ErrInvalidPrivateKey
	}
	return &KeyPair{privateKey: priv, publicKey: priv.PublicKey()}, nil
}

// MarshalPKCS8 serializes the private key for persistence.
func (kp *KeyPair) MarshalPKCS8() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return der, nil
}

// PublicKeyBytes returns the public key as an uncompressed EC point
// (65 bytes). Both ends of a pairing use this encoding.
func (kp *KeyPair) PublicKeyBytes() []byte {
	return kp.publicKey.Bytes()
}

// Fingerprint returns a short hex identifier of the public key, used for
// logging.
func (kp *KeyPair) Fingerprint() string {
	sum := sha256.Sum256(kp.PublicKeyBytes())
	return hex.EncodeToString(sum[:8])
}

// SharedSecret computes a 32-byte shared secret from a P-256 ECDH exchange
// with the peer's public key bytes. It returns SHA-256 of the raw ECDH
// output, so both sides derive the same 32 bytes.
func (kp *KeyPair) SharedSecret(peerPubBytes []byte) ([]byte, error) {
	peerPub, err := ecdh.P256().NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	raw, err := kp.privateKey.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// Sign computes HMAC-SHA256 over message with the given secret and returns
// the lowercase hex encoding.
func Sign(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex HMAC-SHA256 signature in constant time.
func Verify(secret []byte, message, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return hmac.Equal(mac.Sum(nil), want)
}

// ConstantTimeEqual compares two strings without leaking the position of
// the first differing byte. Used for auth token comparison.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ConfirmCode derives the 6-digit confirmation code both devices display
// during pairing. The two public keys are ordered lexicographically so the
// derivation is symmetric, then hashed with an unambiguous separator.
func ConfirmCode(pubA, pubB []byte) string {
	lo, hi := pubA, pubB
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	h := sha256.New()
	h.Write(lo)
	h.Write([]byte("|"))
	h.Write(hi)
	sum := h.Sum(nil)
	code := binary.BigEndian.Uint32(sum[:4]) % 1000000
	return fmt.Sprintf("%06d", code)
}
