package containment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/meshplane/core/pkg/store"
)

// IncidentStore persists the incident trail at append time. The trail is
// append-only: a record, once written, is never replaced, and the
// controller seeds its sequence from the store on startup so ids keep
// increasing across restarts.
type IncidentStore interface {
	Append(ctx context.Context, inc Incident) error
	LoadAll(ctx context.Context) ([]Incident, error)
}

// FileIncidentStore keeps one JSON file per incident, written with the
// atomic-replace discipline.
type FileIncidentStore struct {
	dir string
}

// NewFileIncidentStore creates (if needed) the incident directory.
func NewFileIncidentStore(dir string) (*FileIncidentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure incident dir: %w", err)
	}
	return &FileIncidentStore{dir: dir}, nil
}

func (s *FileIncidentStore) path(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("incident-%06d.json", id))
}

// Append writes one incident record. It refuses to touch an id that is
// already on disk.
func (s *FileIncidentStore) Append(ctx context.Context, inc Incident) error {
	path := s.path(inc.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("incident %d already recorded", inc.ID)
	}
	data, err := json.MarshalIndent(inc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode incident %d: %w", inc.ID, err)
	}
	if err := store.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write incident %d: %w", inc.ID, err)
	}
	return nil
}

// LoadAll reads every persisted incident in id order.
func (s *FileIncidentStore) LoadAll(ctx context.Context) ([]Incident, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "incident-*.json"))
	if err != nil {
		return nil, err
	}
	incidents := make([]Incident, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var inc Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		incidents = append(incidents, inc)
	}
	sort.Slice(incidents, func(i, j int) bool { return incidents[i].ID < incidents[j].ID })
	return incidents, nil
}

// MemoryIncidentStore is an in-process incident store for tests.
type MemoryIncidentStore struct {
	incidents []Incident

	// FailAppends, when non-nil, is returned from Append to exercise
	// persistence-failure paths.
	FailAppends error
}

func NewMemoryIncidentStore() *MemoryIncidentStore {
	return &MemoryIncidentStore{}
}

func (s *MemoryIncidentStore) Append(ctx context.Context, inc Incident) error {
	if s.FailAppends != nil {
		return s.FailAppends
	}
	s.incidents = append(s.incidents, inc)
	return nil
}

func (s *MemoryIncidentStore) LoadAll(ctx context.Context) ([]Incident, error) {
	out := make([]Incident, len(s.incidents))
	copy(out, s.incidents)
	return out, nil
}
