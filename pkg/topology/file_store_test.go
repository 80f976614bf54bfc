package topology

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Save(context.Background(), Assignment{
		Role: RoleAuthority, DeviceID: "dev-1", MeshAddress: "mesh://10.0.0.1", AssignedAt: now,
	}))
	require.NoError(t, fs.Save(context.Background(), Assignment{
		Role: RoleWorker, DeviceID: "dev-2", MeshAddress: "mesh://10.0.0.2", AssignedAt: now,
	}))

	all, err := fs.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)

	byID := map[string]Assignment{}
	for _, a := range all {
		byID[a.DeviceID] = a
	}
	assert.Equal(t, RoleAuthority, byID["dev-1"].Role)
	assert.Equal(t, "mesh://10.0.0.2", byID["dev-2"].MeshAddress)
}

func TestFileStore_RejectsCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"role":"OVERLORD","device_id":"x"}`), 0600))
	_, err = fs.LoadAll(context.Background())
	assert.Error(t, err)
}

func TestFileStore_HostileDeviceIDStaysInDir(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Save(context.Background(), Assignment{
		Role: RoleWorker, DeviceID: "../escape", MeshAddress: "m", AssignedAt: time.Now(),
	}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
