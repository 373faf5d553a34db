package artifacts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curio-sh/curio/pkg/rbac"
)

func newStoredArtifact(t *testing.T, store *MemoryStore, owner string) *Artifact {
	t.Helper()

	now := time.Now()
	artifact := &Artifact{
		UUID:             NewArtifactID(),
		Title:            "Test Artifact",
		ShortDescription: "a test artifact",
		Visibility:       VisibilityPrivate,
		OwnerURN:         owner,
		SharingKey:       "test-sharing-key",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.CreateArtifact(context.Background(), artifact))
	return artifact
}

func TestMemoryStoreCreateArtifactCreatesOwnerGrant(t *testing.T) {
	store := NewMemoryStore()
	artifact := newStoredArtifact(t, store, "urn:curio:user:dev:alice")

	grants, err := store.ListGrants(context.Background(), artifact.UUID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, rbac.RoleOwner, grants[0].Role)
	assert.Equal(t, "urn:curio:user:dev:alice", grants[0].PrincipalURN)
}

func TestMemoryStoreCreateArtifactRejectsDuplicate(t *testing.T) {
	store := NewMemoryStore()
	artifact := newStoredArtifact(t, store, "urn:curio:user:dev:alice")

	err := store.CreateArtifact(context.Background(), artifact)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemoryStoreConcurrentVersionsGetDenseSequence(t *testing.T) {
	store := NewMemoryStore()
	artifact := newStoredArtifact(t, store, "urn:curio:user:dev:alice")
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	seqs := make(chan uint64, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			version, err := store.CreateVersion(ctx, artifact.UUID, "hash")
			assert.NoError(t, err)
			seqs <- version.Seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool, n)
	for seq := range seqs {
		assert.False(t, seen[seq], "sequence %d assigned twice", seq)
		seen[seq] = true
	}
	for seq := uint64(1); seq <= n; seq++ {
		assert.True(t, seen[seq], "sequence %d skipped", seq)
	}
}

func TestMemoryStoreVersionSlugsIncrementWithinDay(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return fixed })
	artifact := newStoredArtifact(t, store, "urn:curio:user:dev:alice")
	ctx := context.Background()

	v1, err := store.CreateVersion(ctx, artifact.UUID, "h1")
	require.NoError(t, err)
	v2, err := store.CreateVersion(ctx, artifact.UUID, "h2")
	require.NoError(t, err)
	v3, err := store.CreateVersion(ctx, artifact.UUID, "h3")
	require.NoError(t, err)

	assert.Equal(t, "2026-03-14", v1.Slug)
	assert.Equal(t, "2026-03-14.1", v2.Slug)
	assert.Equal(t, "2026-03-14.2", v3.Slug)

	fixed = fixed.Add(24 * time.Hour)
	v4, err := store.CreateVersion(ctx, artifact.UUID, "h4")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", v4.Slug)
}

func TestMemoryStoreTombstoneIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	artifact := newStoredArtifact(t, store, "urn:curio:user:dev:alice")
	ctx := context.Background()

	version, err := store.CreateVersion(ctx, artifact.UUID, "h1")
	require.NoError(t, err)

	require.NoError(t, store.TombstoneVersion(ctx, artifact.UUID, version.Seq))

	// A second tombstone behaves like a missing version
	err = store.TombstoneVersion(ctx, artifact.UUID, version.Seq)
	require.ErrorIs(t, err, ErrNotFound)

	// The tombstoned sequence number is never reused
	next, err := store.CreateVersion(ctx, artifact.UUID, "h2")
	require.NoError(t, err)
	assert.Equal(t, version.Seq+1, next.Seq)
}

func TestMemoryStoreListVersionsExcludesTombstoned(t *testing.T) {
	store := NewMemoryStore()
	artifact := newStoredArtifact(t, store, "urn:curio:user:dev:alice")
	ctx := context.Background()

	v1, err := store.CreateVersion(ctx, artifact.UUID, "h1")
	require.NoError(t, err)
	_, err = store.CreateVersion(ctx, artifact.UUID, "h2")
	require.NoError(t, err)

	require.NoError(t, store.TombstoneVersion(ctx, artifact.UUID, v1.Seq))

	live, err := store.ListVersions(ctx, artifact.UUID, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, uint64(2), live[0].Seq)

	all, err := store.ListVersions(ctx, artifact.UUID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStoreGrantRules(t *testing.T) {
	store := NewMemoryStore()
	artifact := newStoredArtifact(t, store, "urn:curio:user:dev:alice")
	ctx := context.Background()

	// Owner grants cannot be created directly
	err := store.UpsertGrant(ctx, AccessGrant{
		ArtifactUUID: artifact.UUID,
		PrincipalURN: "urn:curio:user:dev:bob",
		Role:         rbac.RoleOwner,
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	// The owner cannot be demoted through UpsertGrant
	err = store.UpsertGrant(ctx, AccessGrant{
		ArtifactUUID: artifact.UUID,
		PrincipalURN: "urn:curio:user:dev:alice",
		Role:         rbac.RoleViewer,
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	// The owner grant cannot be removed
	err = store.RemoveGrant(ctx, artifact.UUID, "urn:curio:user:dev:alice")
	require.ErrorIs(t, err, ErrInvalidInput)

	// Ordinary grants round-trip
	require.NoError(t, store.UpsertGrant(ctx, AccessGrant{
		ArtifactUUID: artifact.UUID,
		PrincipalURN: "urn:curio:user:dev:bob",
		Role:         rbac.RoleCollaborator,
	}))
	require.NoError(t, store.RemoveGrant(ctx, artifact.UUID, "urn:curio:user:dev:bob"))
	err = store.RemoveGrant(ctx, artifact.UUID, "urn:curio:user:dev:bob")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTransferOwnership(t *testing.T) {
	store := NewMemoryStore()
	owner := "urn:curio:user:dev:alice"
	newOwner := "urn:curio:user:dev:bob"
	artifact := newStoredArtifact(t, store, owner)
	ctx := context.Background()

	// Only the current owner can be named as transferor
	err := store.TransferOwnership(ctx, artifact.UUID, newOwner, owner)
	require.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, store.TransferOwnership(ctx, artifact.UUID, owner, newOwner))

	updated, err := store.GetArtifact(ctx, artifact.UUID)
	require.NoError(t, err)
	assert.Equal(t, newOwner, updated.OwnerURN)

	grants, err := store.ListGrants(ctx, artifact.UUID)
	require.NoError(t, err)

	owners := 0
	roles := make(map[string]rbac.Role, len(grants))
	for _, g := range grants {
		roles[g.PrincipalURN] = g.Role
		if g.Role == rbac.RoleOwner {
			owners++
		}
	}
	assert.Equal(t, 1, owners, "exactly one owner at all times")
	assert.Equal(t, rbac.RoleOwner, roles[newOwner])
	assert.Equal(t, rbac.RoleCollaborator, roles[owner])
}
