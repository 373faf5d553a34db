package artifacts

import (
	"context"
	"time"
)

// Store persists artifacts, versions, and access grants.
//
// Implementations must serialize version creation and ownership transfer
// per artifact: concurrent CreateVersion calls on one artifact never produce
// duplicate or skipped sequence numbers, and a reader never observes an
// artifact with zero or two owners. Operations on different artifacts
// proceed independently.
type Store interface {
	// CreateArtifact stores a new artifact together with its owner grant
	// in one atomic step
	CreateArtifact(ctx context.Context, artifact *Artifact) error

	// GetArtifact returns the artifact or ErrNotFound
	GetArtifact(ctx context.Context, id string) (*Artifact, error)

	// ListArtifacts returns all artifacts
	ListArtifacts(ctx context.Context) ([]*Artifact, error)

	// UpdateArtifact overwrites mutable metadata (last-writer-wins)
	UpdateArtifact(ctx context.Context, artifact *Artifact) error

	// DeleteArtifact removes the artifact, its versions, and its grants.
	// Only an explicit request deletes an artifact; removing the last
	// version never does.
	DeleteArtifact(ctx context.Context, id string) error

	// CreateVersion appends a version with a server-assigned sequence
	// number, atomically per artifact
	CreateVersion(ctx context.Context, artifactID, contentHash string) (*Version, error)

	// GetVersion returns the version (tombstoned or not) or ErrNotFound
	GetVersion(ctx context.Context, artifactID string, seq uint64) (*Version, error)

	// ListVersions returns versions ordered by sequence number.
	// Tombstoned versions are excluded unless includeTombstoned is set.
	ListVersions(ctx context.Context, artifactID string, includeTombstoned bool) ([]*Version, error)

	// TombstoneVersion soft-deletes a version. Tombstoning is terminal;
	// tombstoning an already tombstoned version returns ErrNotFound.
	TombstoneVersion(ctx context.Context, artifactID string, seq uint64) error

	// ListGrants returns the access grants for an artifact
	ListGrants(ctx context.Context, artifactID string) ([]AccessGrant, error)

	// UpsertGrant creates or updates a collaborator/viewer grant. Owner
	// grants are managed only through CreateArtifact and
	// TransferOwnership.
	UpsertGrant(ctx context.Context, grant AccessGrant) error

	// RemoveGrant removes a non-owner grant
	RemoveGrant(ctx context.Context, artifactID, principalURN string) error

	// TransferOwnership atomically demotes the current owner to
	// collaborator and promotes the new principal to owner
	TransferOwnership(ctx context.Context, artifactID, currentOwnerURN, newOwnerURN string) error
}

// Clock abstracts time for stores, so tests can pin timestamps
type Clock func() time.Time

// ContentRef summarizes the live references to one content hash
type ContentRef struct {
	Count     int
	FirstSeen time.Time
}
