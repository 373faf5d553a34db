package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries bounds retry attempts for transient backend failures
	DefaultMaxRetries = 3

	abortProbeTimeout = 5 * time.Second
)

// Observer receives storage operation signals for metrics
type Observer interface {
	ObserveStorageOperation(operation, backend, status string, duration time.Duration)
	ObserveStorageRetry(operation, backend string)
	ObserveQuarantine()
	ObserveDedupHit()
}

// HashBytes returns the lowercase hex SHA-256 digest of data. It is the
// canonical content address for every stored object.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// objectKey maps a content hash to its backend key. Fanning out on the
// first two hex characters keeps directory listings bounded.
func objectKey(hash string) string {
	return fmt.Sprintf("artifacts/sha256/%s/%s", hash[:2], hash[2:])
}

// ObjectStore is the content-addressed blob store sitting in front of a
// Backend. It hashes content before transmission, verifies it on write and
// read, deduplicates identical uploads through reference counting, and
// quarantines any object whose stored bytes stop matching their hash.
//
// The in-memory object index is rebuilt at startup from the version table,
// which records every live content hash.
type ObjectStore struct {
	backend Backend
	cache   *ContentCache

	mu      sync.Mutex
	objects map[string]*StorageObject
	// busy holds a channel per hash with a backend write or delete in
	// flight; the channel closes when the operation finishes. Put, Ref,
	// and reclaimOne serialize on it so a reference can never attach to
	// an object whose bytes are mid-delete.
	busy map[string]chan struct{}

	maxRetries uint64
	observer   Observer
	now        func() time.Time
}

// ObjectStoreOption configures an ObjectStore
type ObjectStoreOption func(*ObjectStore)

// WithContentCache fronts reads with a cache tier
func WithContentCache(cache *ContentCache) ObjectStoreOption {
	return func(s *ObjectStore) { s.cache = cache }
}

// WithMaxRetries overrides the transient-failure retry budget
func WithMaxRetries(retries uint64) ObjectStoreOption {
	return func(s *ObjectStore) { s.maxRetries = retries }
}

// WithObserver wires storage metrics
func WithObserver(observer Observer) ObjectStoreOption {
	return func(s *ObjectStore) { s.observer = observer }
}

// NewObjectStore creates an object store over the given backend
func NewObjectStore(backend Backend, opts ...ObjectStoreOption) *ObjectStore {
	s := &ObjectStore{
		backend:    backend,
		objects:    make(map[string]*StorageObject),
		busy:       make(map[string]chan struct{}),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name reports the underlying backend's name
func (s *ObjectStore) Name() string { return s.backend.Name() }

// Healthy reports whether the underlying backend is reachable
func (s *ObjectStore) Healthy(ctx context.Context) error {
	return s.backend.Healthy(ctx)
}

// Restore seeds the object index with a hash known to be referenced,
// used to rebuild state from the version table at startup
func (s *ObjectStore) Restore(hash string, refCount int, size int64, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[hash] = &StorageObject{
		Hash:      hash,
		Backend:   s.backend.Name(),
		Size:      size,
		RefCount:  refCount,
		Status:    StatusVerified,
		CreatedAt: createdAt,
	}
}

// Put stores data under its content hash and returns the object holding one
// new reference. Identical content is deduplicated: a second put of the same
// bytes only bumps the reference count.
//
// If the context is cancelled mid-transfer the returned PutAbortedError
// states whether bytes reached the backend; persisted orphans are indexed
// with a zero reference count so Reclaim can remove them.
func (s *ObjectStore) Put(ctx context.Context, data []byte) (*StorageObject, error) {
	hash := HashBytes(data)

	if err := s.acquire(ctx, hash); err != nil {
		return nil, err
	}
	defer s.release(hash)

	s.mu.Lock()
	if obj, ok := s.objects[hash]; ok && obj.RefCount > 0 {
		if obj.Status == StatusQuarantined {
			s.mu.Unlock()
			return nil, ErrQuarantined
		}
		obj.RefCount++
		copied := *obj
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.ObserveDedupHit()
		}
		return &copied, nil
	}
	s.mu.Unlock()

	key := objectKey(hash)
	if err := s.retry(ctx, "put", func() error {
		return s.backend.Put(ctx, key, data)
	}); err != nil {
		if ctx.Err() != nil {
			return nil, s.resolveAbortedPut(hash, key, len(data), err)
		}
		return nil, err
	}

	// Read back what the backend holds before handing out a reference
	if _, err := s.readVerified(ctx, hash, key); err != nil {
		return nil, err
	}

	return s.register(hash, int64(len(data)), 1), nil
}

// Get returns the verified bytes stored under hash. Content that fails
// verification is quarantined and never served.
func (s *ObjectStore) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.Lock()
	obj, ok := s.objects[hash]
	if !ok || obj.RefCount <= 0 {
		s.mu.Unlock()
		return nil, ErrObjectMissing
	}
	if obj.Status == StatusQuarantined {
		s.mu.Unlock()
		return nil, ErrQuarantined
	}
	s.mu.Unlock()

	// Cache entries were verified when inserted and are keyed by hash,
	// so a hit needs no re-check
	if s.cache != nil {
		if data, hit := s.cache.Get(ctx, hash); hit {
			return data, nil
		}
	}

	return s.readVerified(ctx, hash, objectKey(hash))
}

// Verify re-checks the stored bytes against their content address without
// serving them. A mismatch quarantines the object.
func (s *ObjectStore) Verify(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	obj, ok := s.objects[hash]
	if !ok {
		s.mu.Unlock()
		return false, ErrObjectMissing
	}
	if obj.Status == StatusQuarantined {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	if _, err := s.readVerified(ctx, hash, objectKey(hash)); err != nil {
		if errors.Is(err, ErrQuarantined) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns the object record for hash, or ErrObjectMissing
func (s *ObjectStore) Stat(hash string) (*StorageObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[hash]
	if !ok {
		return nil, ErrObjectMissing
	}
	copied := *obj
	return &copied, nil
}

// Ref adds a reference to an existing object, used when a version record
// commits against already stored content. If the object's bytes are
// mid-delete, Ref waits for the outcome rather than resurrecting a record
// whose backing bytes are gone.
func (s *ObjectStore) Ref(hash string) error {
	for {
		s.mu.Lock()
		if ch, inFlight := s.busy[hash]; inFlight {
			s.mu.Unlock()
			<-ch
			continue
		}
		defer s.mu.Unlock()

		obj, ok := s.objects[hash]
		if !ok {
			return ErrObjectMissing
		}
		if obj.Status == StatusQuarantined {
			return ErrQuarantined
		}
		obj.RefCount++
		return nil
	}
}

// Release drops one reference. When the count reaches zero the backing
// bytes are deleted; a failed delete leaves the orphan for Reclaim.
func (s *ObjectStore) Release(ctx context.Context, hash string) error {
	s.mu.Lock()
	obj, ok := s.objects[hash]
	if !ok {
		s.mu.Unlock()
		return ErrObjectMissing
	}
	if obj.RefCount > 0 {
		obj.RefCount--
	}
	if obj.RefCount > 0 {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.reclaimOne(ctx, hash)
	if errors.Is(err, ErrStillReferenced) {
		// A concurrent put re-referenced the content before the delete
		// could start; the bytes stay
		return nil
	}
	return err
}

// Reclaim deletes every unreferenced object, returning how many were
// removed. Run periodically to clean up orphans from aborted puts.
func (s *ObjectStore) Reclaim(ctx context.Context) (int, error) {
	s.mu.Lock()
	var orphans []string
	for hash, obj := range s.objects {
		if obj.RefCount <= 0 {
			orphans = append(orphans, hash)
		}
	}
	s.mu.Unlock()

	reclaimed := 0
	for _, hash := range orphans {
		err := s.reclaimOne(ctx, hash)
		if errors.Is(err, ErrStillReferenced) {
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// reclaimOne deletes the backend bytes for an unreferenced object. It holds
// the per-hash guard across the delete so no put or ref can attach a
// reference while the bytes are going away; a reference that attached first
// aborts the reclaim with ErrStillReferenced.
func (s *ObjectStore) reclaimOne(ctx context.Context, hash string) error {
	if err := s.acquire(ctx, hash); err != nil {
		return err
	}
	defer s.release(hash)

	s.mu.Lock()
	obj, ok := s.objects[hash]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if obj.RefCount > 0 {
		s.mu.Unlock()
		return ErrStillReferenced
	}
	s.mu.Unlock()

	if err := s.retry(ctx, "delete", func() error {
		return s.backend.Delete(ctx, objectKey(hash))
	}); err != nil {
		return fmt.Errorf("failed to reclaim object %s: %w", hash, err)
	}

	s.mu.Lock()
	delete(s.objects, hash)
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Invalidate(ctx, hash)
	}
	return nil
}

// acquire claims the per-hash guard, waiting out any operation already in
// flight for the same hash
func (s *ObjectStore) acquire(ctx context.Context, hash string) error {
	for {
		s.mu.Lock()
		ch, inFlight := s.busy[hash]
		if !inFlight {
			s.busy[hash] = make(chan struct{})
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *ObjectStore) release(hash string) {
	s.mu.Lock()
	close(s.busy[hash])
	delete(s.busy, hash)
	s.mu.Unlock()
}

// readVerified fetches the backend bytes for hash and checks them against
// the content address, quarantining on mismatch
func (s *ObjectStore) readVerified(ctx context.Context, hash, key string) ([]byte, error) {
	var data []byte
	if err := s.retry(ctx, "get", func() error {
		var err error
		data, err = s.backend.Get(ctx, key)
		return err
	}); err != nil {
		return nil, err
	}

	if HashBytes(data) != hash {
		s.quarantine(ctx, hash, int64(len(data)))
		return nil, ErrQuarantined
	}

	if s.cache != nil {
		s.cache.Set(ctx, hash, data)
	}
	return data, nil
}

// quarantine marks the object so it is never served again. The bytes stay
// in the backend for forensics.
func (s *ObjectStore) quarantine(ctx context.Context, hash string, size int64) {
	s.mu.Lock()
	obj, ok := s.objects[hash]
	if !ok {
		obj = &StorageObject{
			Hash:      hash,
			Backend:   s.backend.Name(),
			Size:      size,
			CreatedAt: s.now(),
		}
		s.objects[hash] = obj
	}
	obj.Status = StatusQuarantined
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Invalidate(ctx, hash)
	}
	if s.observer != nil {
		s.observer.ObserveQuarantine()
	}
}

// register records a freshly verified object, merging with a concurrent
// registration of the same content
func (s *ObjectStore) register(hash string, size int64, refs int) *StorageObject {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[hash]
	if !ok {
		obj = &StorageObject{
			Hash:      hash,
			Backend:   s.backend.Name(),
			Size:      size,
			Status:    StatusVerified,
			CreatedAt: s.now(),
		}
		s.objects[hash] = obj
	}
	obj.RefCount += refs
	copied := *obj
	return &copied
}

// resolveAbortedPut determines whether a cancelled put left bytes in the
// backend. Persisted orphans are indexed unreferenced for Reclaim.
func (s *ObjectStore) resolveAbortedPut(hash, key string, size int, cause error) error {
	probeCtx, cancel := context.WithTimeout(context.Background(), abortProbeTimeout)
	defer cancel()

	exists, err := s.backend.Exists(probeCtx, key)
	if err != nil {
		// Unknown outcome counts as persisted so Reclaim will look at it
		s.register(hash, int64(size), 0)
		return &PutAbortedError{Persisted: true, Err: cause}
	}
	if exists {
		s.register(hash, int64(size), 0)
		return &PutAbortedError{Persisted: true, Err: cause}
	}
	return &PutAbortedError{Persisted: false, Err: cause}
}

// retry runs fn, retrying with exponential backoff while it reports
// ErrBackendUnavailable. Permanent errors and context cancellation stop
// immediately.
func (s *ObjectStore) retry(ctx context.Context, operation string, fn func() error) error {
	start := s.now()

	attempt := 0
	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrBackendUnavailable) && ctx.Err() == nil {
			attempt++
			if s.observer != nil {
				s.observer.ObserveStorageRetry(operation, s.backend.Name())
			}
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries),
		ctx,
	)
	err := backoff.Retry(wrapped, policy)

	if s.observer != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.observer.ObserveStorageOperation(operation, s.backend.Name(), status, time.Since(start))
	}
	return err
}
