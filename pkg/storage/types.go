package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// VerificationStatus tracks whether an object's content hash has been
// confirmed against the bytes the backend holds
type VerificationStatus string

const (
	// StatusVerified means the read-back check after write, or the most
	// recent read, matched the recorded hash
	StatusVerified VerificationStatus = "verified"
	// StatusQuarantined means a verification failed; the object is never
	// served again
	StatusQuarantined VerificationStatus = "quarantined"
)

// StorageObject is a content-addressed blob held in a backing store.
// Multiple versions referencing identical content share one object; the
// reference count decides when the bytes can be reclaimed.
type StorageObject struct {
	Hash      string             `json:"hash"`
	Backend   string             `json:"backend"`
	Size      int64              `json:"size"`
	RefCount  int                `json:"ref_count"`
	Status    VerificationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// Backend is a single backing store for content-addressed blobs. Keys are
// derived from content hashes by the object store; backends treat them as
// opaque.
type Backend interface {
	// Name identifies the backend in metrics and object records
	Name() string
	// Put writes the blob under key
	Put(ctx context.Context, key string, data []byte) error
	// Get reads the blob under key, or ErrObjectMissing
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key is present
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the blob under key
	Delete(ctx context.Context, key string) error
	// Healthy reports whether the backend is reachable
	Healthy(ctx context.Context) error
}

var (
	// ErrObjectMissing indicates no object is stored under the given hash
	ErrObjectMissing = errors.New("storage object not found")

	// ErrQuarantined indicates the object failed integrity verification.
	// Quarantined content is never served; this error signals backend
	// data corruption needing operator attention, not a client mistake.
	ErrQuarantined = errors.New("storage object quarantined")

	// ErrBackendUnavailable wraps transient backend failures (timeouts,
	// 5xx). Retried with backoff up to a bounded attempt count, then
	// surfaced as a service-unavailable condition.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrStillReferenced indicates a delete was attempted on an object a
	// live version still references
	ErrStillReferenced = errors.New("storage object still referenced")
)

// PutAbortedError reports the outcome of a put cancelled mid-flight.
// Persisted tells the caller whether bytes reached the backend (and were
// registered for cleanup) or whether nothing was stored.
type PutAbortedError struct {
	Persisted bool
	Err       error
}

func (e *PutAbortedError) Error() string {
	if e.Persisted {
		return fmt.Sprintf("put aborted after persisting: %v", e.Err)
	}
	return fmt.Sprintf("put aborted without persisting: %v", e.Err)
}

func (e *PutAbortedError) Unwrap() error { return e.Err }
