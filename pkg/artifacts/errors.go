package artifacts

import "errors"

var (
	// ErrNotFound indicates a missing artifact or version. At the API
	// boundary it is indistinguishable from ErrForbidden.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates an authorization denial. Disclosure-safe:
	// carries no hint whether the resource exists.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated indicates an operation that needs an identity was
	// attempted without one. Unlike ErrForbidden there is no resource whose
	// existence needs hiding, so the API reports it as such.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrInsufficientScope indicates an authenticated caller whose token
	// does not carry the scope an operation needs
	ErrInsufficientScope = errors.New("insufficient scope")

	// ErrAlreadyExists indicates a uniqueness conflict on creation
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflictingSequence indicates a duplicate sequence number was
	// observed. Sequence numbers are server-assigned under per-artifact
	// serialization, so this signals an invariant violation, not a client
	// error.
	ErrConflictingSequence = errors.New("conflicting version sequence")

	// ErrInvalidInput indicates a request that failed validation
	ErrInvalidInput = errors.New("invalid input")
)
