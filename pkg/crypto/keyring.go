package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Keyring holds the node's root secret and derives purpose-bound subkeys
// from it. Each consumer (incident signing, operator assertions) gets its
// own derived key so compromising one surface never exposes another.
type Keyring struct {
	root []byte
}

// KeySize is the length in bytes of the root key and every derived key.
const KeySize = 32

// NewKeyring creates a keyring from an existing root key.
func NewKeyring(root []byte) (*Keyring, error) {
	if len(root) != KeySize {
		return nil, fmt.Errorf("keyring: root key must be %d bytes, got %d", KeySize, len(root))
	}
	k := make([]byte, KeySize)
	copy(k, root)
	return &Keyring{root: k}, nil
}

// NewRandomKeyring generates a fresh random root key. Intended for tests
// and single-node development; production nodes load the fleet root key
// from configuration.
func NewRandomKeyring() (*Keyring, error) {
	root := make([]byte, KeySize)
	if _, err := rand.Read(root); err != nil {
		return nil, fmt.Errorf("keyring: entropy source failed: %w", err)
	}
	return &Keyring{root: root}, nil
}

// Derive returns a purpose-bound subkey using HKDF-SHA256. The same root
// key and purpose always yield the same subkey, so every node holding the
// fleet root key derives identical verification keys.
func (k *Keyring) Derive(purpose string) ([]byte, error) {
	if purpose == "" {
		return nil, fmt.Errorf("keyring: purpose must not be empty")
	}
	r := hkdf.New(sha256.New, k.root, nil, []byte(purpose))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("keyring: derive %q: %w", purpose, err)
	}
	return key, nil
}

// DeriveSigner returns an HMAC signer keyed with a purpose-bound subkey.
func (k *Keyring) DeriveSigner(purpose string) (*HMACSigner, error) {
	key, err := k.Derive(purpose)
	if err != nil {
		return nil, err
	}
	return NewHMACSigner(key, purpose)
}

// Fingerprint returns a short identifier for the root key, safe to log.
func (k *Keyring) Fingerprint() string {
	sum := sha256.Sum256(k.root)
	return hex.EncodeToString(sum[:4])
}
