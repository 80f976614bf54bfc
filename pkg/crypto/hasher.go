package crypto

import (
	"fmt"

	"github.com/meshplane/core/pkg/canonicalize"
)

// Hasher provides deterministic hashing of structured values.
type Hasher interface {
	Hash(v interface{}) (string, error)
}

// CanonicalHasher hashes the RFC 8785 canonical JSON form of a value with
// SHA-256, so digests agree across nodes regardless of field order.
type CanonicalHasher struct{}

func NewCanonicalHasher() *CanonicalHasher {
	return &CanonicalHasher{}
}

func (h *CanonicalHasher) Hash(v interface{}) (string, error) {
	hash, err := canonicalize.CanonicalHash(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash failed: %w", err)
	}
	return hash, nil
}
