package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory Backend whose failures can be scripted
type fakeBackend struct {
	mu   sync.Mutex
	data map[string][]byte

	puts int
	gets int

	// transient failures remaining before an operation succeeds
	failPuts int
	failGets int

	// onDelete, when set, runs at the start of every Delete call
	onDelete func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.failPuts > 0 {
		b.failPuts--
		return fmt.Errorf("%w: scripted failure", ErrBackendUnavailable)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	b.data[key] = copied
	return nil
}

func (b *fakeBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	if b.failGets > 0 {
		b.failGets--
		return nil, fmt.Errorf("%w: scripted failure", ErrBackendUnavailable)
	}
	data, ok := b.data[key]
	if !ok {
		return nil, ErrObjectMissing
	}
	return data, nil
}

func (b *fakeBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok, nil
}

func (b *fakeBackend) Delete(ctx context.Context, key string) error {
	if b.onDelete != nil {
		b.onDelete()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *fakeBackend) Healthy(ctx context.Context) error { return nil }

// corrupt flips the stored bytes under the key derived from hash
func (b *fakeBackend) corrupt(hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[objectKey(hash)] = []byte("corrupted")
}

func TestObjectStorePutGetRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	store := NewObjectStore(backend)
	ctx := context.Background()

	content := []byte("experiment results v1")
	obj, err := store.Put(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(content), obj.Hash)
	assert.Equal(t, 1, obj.RefCount)
	assert.Equal(t, StatusVerified, obj.Status)
	assert.Equal(t, int64(len(content)), obj.Size)

	got, err := store.Get(ctx, obj.Hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestObjectStoreDeduplicatesByHash(t *testing.T) {
	backend := newFakeBackend()
	store := NewObjectStore(backend)
	ctx := context.Background()

	content := []byte("identical content")
	first, err := store.Put(ctx, content)
	require.NoError(t, err)

	putsAfterFirst := backend.puts

	second, err := store.Put(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, 2, second.RefCount)
	assert.Equal(t, putsAfterFirst, backend.puts, "dedup hit must not write again")
}

func TestObjectStoreQuarantinesOnReadMismatch(t *testing.T) {
	backend := newFakeBackend()
	store := NewObjectStore(backend)
	ctx := context.Background()

	obj, err := store.Put(ctx, []byte("pristine"))
	require.NoError(t, err)

	backend.corrupt(obj.Hash)

	_, err = store.Get(ctx, obj.Hash)
	require.ErrorIs(t, err, ErrQuarantined)

	// Quarantine is terminal: later reads fail without touching the backend
	getsAfter := backend.gets
	_, err = store.Get(ctx, obj.Hash)
	require.ErrorIs(t, err, ErrQuarantined)
	assert.Equal(t, getsAfter, backend.gets)

	stat, err := store.Stat(obj.Hash)
	require.NoError(t, err)
	assert.Equal(t, StatusQuarantined, stat.Status)
}

func TestObjectStoreQuarantinedRejectsNewReferences(t *testing.T) {
	backend := newFakeBackend()
	store := NewObjectStore(backend)
	ctx := context.Background()

	content := []byte("will be corrupted")
	obj, err := store.Put(ctx, content)
	require.NoError(t, err)

	backend.corrupt(obj.Hash)
	_, err = store.Get(ctx, obj.Hash)
	require.ErrorIs(t, err, ErrQuarantined)

	_, err = store.Put(ctx, content)
	require.ErrorIs(t, err, ErrQuarantined)
	require.ErrorIs(t, store.Ref(obj.Hash), ErrQuarantined)
}

func TestObjectStoreReleaseReclaimsAtZero(t *testing.T) {
	backend := newFakeBackend()
	store := NewObjectStore(backend)
	ctx := context.Background()

	content := []byte("shared content")
	obj, err := store.Put(ctx, content)
	require.NoError(t, err)
	_, err = store.Put(ctx, content)
	require.NoError(t, err)

	// First release keeps the object alive
	require.NoError(t, store.Release(ctx, obj.Hash))
	_, err = store.Get(ctx, obj.Hash)
	require.NoError(t, err)

	// Second release drops the last reference and reclaims the bytes
	require.NoError(t, store.Release(ctx, obj.Hash))
	_, err = store.Get(ctx, obj.Hash)
	require.ErrorIs(t, err, ErrObjectMissing)

	exists, err := backend.Exists(ctx, objectKey(obj.Hash))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestObjectStoreRetriesTransientFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.failPuts = 1
	store := NewObjectStore(backend, WithMaxRetries(2))
	ctx := context.Background()

	obj, err := store.Put(ctx, []byte("eventually stored"))
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, obj.Status)
	assert.GreaterOrEqual(t, backend.puts, 2)
}

func TestObjectStoreExhaustsRetryBudget(t *testing.T) {
	backend := newFakeBackend()
	backend.failGets = 10
	store := NewObjectStore(backend, WithMaxRetries(1))
	ctx := context.Background()

	obj, err := store.Put(ctx, []byte("present but unreachable"))
	require.NoError(t, err)

	backend.failGets = 10
	_, err = store.Get(ctx, obj.Hash)
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestObjectStoreVerify(t *testing.T) {
	backend := newFakeBackend()
	store := NewObjectStore(backend)
	ctx := context.Background()

	obj, err := store.Put(ctx, []byte("verify me"))
	require.NoError(t, err)

	ok, err := store.Verify(ctx, obj.Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	backend.corrupt(obj.Hash)
	ok, err = store.Verify(ctx, obj.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObjectStorePutWaitsOutInFlightReclaim(t *testing.T) {
	backend := newFakeBackend()
	store := NewObjectStore(backend)
	ctx := context.Background()

	content := []byte("still wanted")
	obj, err := store.Put(ctx, content)
	require.NoError(t, err)

	deleteStarted := make(chan struct{})
	finishDelete := make(chan struct{})
	backend.onDelete = func() {
		close(deleteStarted)
		<-finishDelete
	}

	releaseDone := make(chan error, 1)
	go func() {
		releaseDone <- store.Release(ctx, obj.Hash)
	}()
	<-deleteStarted

	// A put of the same content during the delete must not dedup against
	// the dying record; it waits for the delete, then stores fresh bytes
	putDone := make(chan *StorageObject, 1)
	go func() {
		reput, perr := store.Put(ctx, content)
		assert.NoError(t, perr)
		putDone <- reput
	}()

	select {
	case <-putDone:
		t.Fatal("put completed while the delete was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(finishDelete)
	require.NoError(t, <-releaseDone)

	reput := <-putDone
	assert.Equal(t, 1, reput.RefCount)

	got, err := store.Get(ctx, obj.Hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestObjectStoreReclaimAbortsWhenReferenced(t *testing.T) {
	backend := newFakeBackend()
	store := NewObjectStore(backend)
	ctx := context.Background()

	content := []byte("referenced again")
	hash := HashBytes(content)
	require.NoError(t, backend.Put(ctx, objectKey(hash), content))
	store.Restore(hash, 1, int64(len(content)), store.now())

	require.ErrorIs(t, store.reclaimOne(ctx, hash), ErrStillReferenced)

	exists, err := backend.Exists(ctx, objectKey(hash))
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestObjectStoreReclaimSweepsOrphans(t *testing.T) {
	backend := newFakeBackend()
	store := NewObjectStore(backend)
	ctx := context.Background()

	// Simulate an aborted put that persisted bytes without a reference
	content := []byte("orphan")
	hash := HashBytes(content)
	require.NoError(t, backend.Put(ctx, objectKey(hash), content))
	store.Restore(hash, 0, int64(len(content)), store.now())

	reclaimed, err := store.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	exists, err := backend.Exists(ctx, objectKey(hash))
	require.NoError(t, err)
	assert.False(t, exists)
}
