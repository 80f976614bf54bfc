package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_CreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":1}`), 0600))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))

	// Overwrite is atomic replace, not append.
	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":2}`), 0600))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(got))
}

func TestWriteFileAtomic_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	require.NoError(t, WriteFileAtomic(path, []byte("x"), 0600))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "roles.json", entries[0].Name())
}

func TestWriteFileAtomic_MissingDirSurfaced(t *testing.T) {
	err := WriteFileAtomic(filepath.Join(t.TempDir(), "nope", "f.json"), []byte("x"), 0600)
	assert.Error(t, err)
}
