// Package crypto provides the signing and hashing primitives shared by the
// control plane: a keyed-MAC signer for tamper-evident records and a
// canonical SHA-256 hasher over JCS-serialized values.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Signer produces and verifies tamper-evident signatures over raw bytes.
type Signer interface {
	Sign(data []byte) (string, error)
	Verify(data []byte, sig string) bool
	KeyID() string
}

// HMACSigner signs with HMAC-SHA256. All nodes holding the fleet root key
// derive the same MAC key per purpose, so any node can verify records
// written by any other.
type HMACSigner struct {
	key   []byte
	keyID string
}

// NewHMACSigner creates a signer from a raw MAC key.
func NewHMACSigner(key []byte, keyID string) (*HMACSigner, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("hmac signer: empty key")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &HMACSigner{key: k, keyID: keyID}, nil
}

// Sign returns the hex-encoded HMAC-SHA256 of data.
func (s *HMACSigner) Sign(data []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	if _, err := mac.Write(data); err != nil {
		return "", fmt.Errorf("hmac signer: %w", err)
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the MAC and compares in constant time.
func (s *HMACSigner) Verify(data []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	if _, err := mac.Write(data); err != nil {
		return false
	}
	return hmac.Equal(mac.Sum(nil), want)
}

// KeyID identifies the purpose-bound key this signer holds.
func (s *HMACSigner) KeyID() string {
	return s.keyID
}
