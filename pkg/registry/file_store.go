package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/meshplane/core/pkg/store"
)

// snapshotSchema validates persisted registry records on reload, so a
// hand-edited or corrupted file is rejected instead of silently loading
// garbage membership state.
const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["max_devices", "device_count", "devices"],
  "properties": {
    "max_devices": {"type": "integer", "minimum": 1},
    "device_count": {"type": "integer", "minimum": 0},
    "devices": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["device_id", "device_name", "paired_at", "last_seen", "active"],
        "properties": {
          "device_id": {"type": "string", "minLength": 1},
          "device_name": {"type": "string"},
          "paired_at": {"type": "string"},
          "last_seen": {"type": "string"},
          "active": {"type": "boolean"}
        }
      }
    }
  }
}`

// FileStore persists the registry as a single JSON document with
// atomic-replace writes.
type FileStore struct {
	path   string
	schema *jsonschema.Schema
}

// NewFileStore creates a file-backed registry store at path.
func NewFileStore(path string) (*FileStore, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("registry-snapshot.json", strings.NewReader(snapshotSchema)); err != nil {
		return nil, fmt.Errorf("registry file store: add schema: %w", err)
	}
	schema, err := compiler.Compile("registry-snapshot.json")
	if err != nil {
		return nil, fmt.Errorf("registry file store: compile schema: %w", err)
	}
	return &FileStore{path: path, schema: schema}, nil
}

// Save writes the snapshot with the temp-write → rename discipline.
func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("registry file store: marshal: %w", err)
	}
	return store.WriteFileAtomic(s.path, data, 0600)
}

// Load reads and schema-validates the snapshot. The second return is
// false when no snapshot exists yet.
func (s *FileStore) Load(_ context.Context) (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("registry file store: read: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, false, fmt.Errorf("registry file store: parse: %w", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return Snapshot{}, false, fmt.Errorf("registry file store: schema violation: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("registry file store: decode: %w", err)
	}
	return snap, true, nil
}
