package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PutGetRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	hash, err := s.Put(context.Background(), []byte(`{"k":"v"}`))
	require.NoError(t, err)
	assert.Contains(t, hash, "sha256:")

	data, err := s.Get(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"k":"v"}`), data)

	ok, err := s.Exists(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_PutIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	h1, err := s.Put(context.Background(), []byte("blob"))
	require.NoError(t, err)
	h2, err := s.Put(context.Background(), []byte("blob"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_GetMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "sha256:abcd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RejectsMalformedHash(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "md5:abcd")
	assert.Error(t, err)

	_, err = s.Get(context.Background(), "sha256:not-hex")
	assert.Error(t, err)

	// A traversal attempt never resolves to a path outside the store.
	_, err = s.Get(context.Background(), "sha256:../../etc/passwd")
	assert.Error(t, err)
}

func TestFileStore_Delete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	hash, err := s.Put(context.Background(), []byte("blob"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), hash))
	ok, err := s.Exists(context.Background(), hash)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is not an error.
	assert.NoError(t, s.Delete(context.Background(), hash))
}

func TestNewStoreFromEnv_DefaultsToFilesystem(t *testing.T) {
	t.Setenv("MESHPLANE_ARTIFACT_BACKEND", "")
	t.Setenv("MESHPLANE_DATA_DIR", t.TempDir())

	s, err := NewStoreFromEnv(context.Background())
	require.NoError(t, err)
	_, ok := s.(*FileStore)
	assert.True(t, ok)
}

func TestNewStoreFromEnv_S3RequiresBucket(t *testing.T) {
	t.Setenv("MESHPLANE_ARTIFACT_BACKEND", "s3")
	t.Setenv("MESHPLANE_S3_BUCKET", "")

	_, err := NewStoreFromEnv(context.Background())
	assert.Error(t, err)
}

func TestNewStoreFromEnv_UnknownBackend(t *testing.T) {
	t.Setenv("MESHPLANE_ARTIFACT_BACKEND", "tape")

	_, err := NewStoreFromEnv(context.Background())
	assert.Error(t, err)
}

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "artifacts")
	_, err := NewFileStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
