package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/meshplane/core/pkg/store"
)

// FileStore persists one JSON record per device under a directory, each
// written with the atomic-replace discipline.
type FileStore struct {
	dir string
}

// NewFileStore creates the role-store directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("topology file store: ensure dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(deviceID string) string {
	// Device ids are opaque; replace path separators so a hostile id
	// cannot escape the store directory.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(deviceID)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileStore) Save(_ context.Context, a Assignment) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("topology file store: marshal %s: %w", a.DeviceID, err)
	}
	return store.WriteFileAtomic(s.path(a.DeviceID), data, 0600)
}

func (s *FileStore) LoadAll(_ context.Context) ([]Assignment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("topology file store: read dir: %w", err)
	}
	var out []Assignment
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("topology file store: read %s: %w", e.Name(), err)
		}
		var a Assignment
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("topology file store: decode %s: %w", e.Name(), err)
		}
		if _, err := ParseRole(string(a.Role)); err != nil {
			return nil, fmt.Errorf("topology file store: %s: %w", e.Name(), err)
		}
		if a.DeviceID == "" {
			return nil, fmt.Errorf("topology file store: %s: empty device id", e.Name())
		}
		out = append(out, a)
	}
	return out, nil
}

// MemoryStore is an in-memory Store for tests and ephemeral nodes.
type MemoryStore struct {
	mu          sync.Mutex
	assignments map[string]Assignment

	// FailSaves makes every Save return this error when non-nil.
	FailSaves error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[string]Assignment)}
}

func (s *MemoryStore) Save(_ context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves != nil {
		return s.FailSaves
	}
	s.assignments[a.DeviceID] = a
	return nil
}

func (s *MemoryStore) LoadAll(_ context.Context) ([]Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	return out, nil
}
