// Package artifacts persists the control plane's durable exports: the
// latest validated accuracy metrics and every containment incident,
// written for the reporting tooling outside this core. Blobs are
// content-addressed by SHA-256 so exports are idempotent and verifiable
// after the fact.
package artifacts

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/meshplane/core/pkg/canonicalize"
	"github.com/meshplane/core/pkg/store"
)

// ErrNotFound reports a missing blob.
var ErrNotFound = errors.New("artifact not found")

const hashPrefix = "sha256:"

// Store is content-addressed blob storage for exported artifacts.
type Store interface {
	// Put persists data and returns its content hash, "sha256:<hex>".
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists reports whether a blob with the given content hash exists.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, hash string) error
}

// parseHash validates a "sha256:<hex>" reference and returns the raw
// hex digest.
func parseHash(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, hashPrefix)
	if !ok {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid hash hex: %w", err)
	}
	return raw, nil
}

// FileStore keeps blobs on the local filesystem, one file per hash.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates (if needed) the blob directory and returns a
// store over it.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) blobPath(rawHash string) string {
	return filepath.Join(s.baseDir, rawHash+".blob")
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawHash := canonicalize.HashBytes(data)
	path := s.blobPath(rawHash)

	// Content addressing makes Put idempotent.
	if _, err := os.Stat(path); err == nil {
		return hashPrefix + rawHash, nil
	}
	if err := store.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return hashPrefix + rawHash, nil
}

func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHash, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.blobPath(rawHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHash, err := parseHash(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.blobPath(rawHash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}

func (s *FileStore) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawHash, err := parseHash(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(s.blobPath(rawHash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
