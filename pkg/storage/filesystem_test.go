package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemBackendRoundTrip(t *testing.T) {
	backend, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := "artifacts/sha256/ab/cdef"
	content := []byte("filesystem blob")

	exists, err := backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, backend.Put(ctx, key, content))

	exists, err = backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, backend.Delete(ctx, key))
	_, err = backend.Get(ctx, key)
	require.ErrorIs(t, err, ErrObjectMissing)
}

func TestFilesystemBackendOverwriteIsAtomicReplace(t *testing.T) {
	backend, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := "artifacts/sha256/00/11"
	require.NoError(t, backend.Put(ctx, key, []byte("first")))
	require.NoError(t, backend.Put(ctx, key, []byte("second")))

	got, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestFilesystemBackendDeleteMissingIsIdempotent(t *testing.T) {
	backend, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, backend.Delete(context.Background(), "artifacts/sha256/no/thing"))
}

func TestFilesystemBackendHealthy(t *testing.T) {
	backend, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, backend.Healthy(context.Background()))
}
