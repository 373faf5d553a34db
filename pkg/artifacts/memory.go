package artifacts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/curio-sh/curio/pkg/rbac"
)

// MemoryStore is an in-memory Store, used for development and tests. Each
// artifact gets its own mutex so version sequencing and ownership transfer
// serialize per artifact while unrelated artifacts proceed in parallel.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
	versions  map[string][]*Version    // keyed by artifact uuid, ordered by seq
	grants    map[string][]AccessGrant // keyed by artifact uuid
	locks     map[string]*sync.Mutex   // per-artifact serialization domain

	now Clock
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]*Artifact),
		versions:  make(map[string][]*Version),
		grants:    make(map[string][]AccessGrant),
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// WithClock overrides the store's time source, for tests
func (s *MemoryStore) WithClock(now Clock) *MemoryStore {
	s.now = now
	return s
}

// artifactLock returns the mutex serializing mutations for one artifact
func (s *MemoryStore) artifactLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// CreateArtifact implements Store.CreateArtifact
func (s *MemoryStore) CreateArtifact(ctx context.Context, artifact *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.artifacts[artifact.UUID]; exists {
		return fmt.Errorf("artifact %s: %w", artifact.UUID, ErrAlreadyExists)
	}

	copied := *artifact
	s.artifacts[artifact.UUID] = &copied
	s.grants[artifact.UUID] = []AccessGrant{{
		ArtifactUUID: artifact.UUID,
		PrincipalURN: artifact.OwnerURN,
		Role:         rbac.RoleOwner,
		GrantedAt:    artifact.CreatedAt,
	}}
	return nil
}

// GetArtifact implements Store.GetArtifact
func (s *MemoryStore) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifact, ok := s.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *artifact
	return &copied, nil
}

// ListArtifacts implements Store.ListArtifacts
func (s *MemoryStore) ListArtifacts(ctx context.Context) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Artifact, 0, len(s.artifacts))
	for _, artifact := range s.artifacts {
		copied := *artifact
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateArtifact implements Store.UpdateArtifact
func (s *MemoryStore) UpdateArtifact(ctx context.Context, artifact *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[artifact.UUID]; !ok {
		return ErrNotFound
	}
	copied := *artifact
	s.artifacts[artifact.UUID] = &copied
	return nil
}

// DeleteArtifact implements Store.DeleteArtifact
func (s *MemoryStore) DeleteArtifact(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[id]; !ok {
		return ErrNotFound
	}
	delete(s.artifacts, id)
	delete(s.versions, id)
	delete(s.grants, id)
	delete(s.locks, id)
	return nil
}

// CreateVersion implements Store.CreateVersion. Sequence assignment runs
// under the artifact's mutex so concurrent calls see a dense, collision-free
// sequence.
func (s *MemoryStore) CreateVersion(ctx context.Context, artifactID, contentHash string) (*Version, error) {
	lock := s.artifactLock(artifactID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[artifactID]; !ok {
		return nil, ErrNotFound
	}

	now := s.now()
	existing := s.versions[artifactID]

	var maxSeq uint64
	priorToday := 0
	for _, v := range existing {
		if v.Seq > maxSeq {
			maxSeq = v.Seq
		}
		if sameDay(v.CreatedAt, now) {
			priorToday++
		}
	}

	version := &Version{
		ArtifactUUID: artifactID,
		Seq:          maxSeq + 1,
		Slug:         VersionSlug(now, priorToday),
		ContentHash:  contentHash,
		CreatedAt:    now,
	}
	s.versions[artifactID] = append(existing, version)

	copied := *version
	return &copied, nil
}

// GetVersion implements Store.GetVersion
func (s *MemoryStore) GetVersion(ctx context.Context, artifactID string, seq uint64) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[artifactID] {
		if v.Seq == seq {
			copied := *v
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

// ListVersions implements Store.ListVersions
func (s *MemoryStore) ListVersions(ctx context.Context, artifactID string, includeTombstoned bool) ([]*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.artifacts[artifactID]; !ok {
		return nil, ErrNotFound
	}

	var out []*Version
	for _, v := range s.versions[artifactID] {
		if v.Tombstoned() && !includeTombstoned {
			continue
		}
		copied := *v
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// TombstoneVersion implements Store.TombstoneVersion
func (s *MemoryStore) TombstoneVersion(ctx context.Context, artifactID string, seq uint64) error {
	lock := s.artifactLock(artifactID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.versions[artifactID] {
		if v.Seq != seq {
			continue
		}
		if v.Tombstoned() {
			return ErrNotFound
		}
		now := s.now()
		v.TombstonedAt = &now
		return nil
	}
	return ErrNotFound
}

// ListGrants implements Store.ListGrants
func (s *MemoryStore) ListGrants(ctx context.Context, artifactID string) ([]AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grants, ok := s.grants[artifactID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]AccessGrant, len(grants))
	copy(out, grants)
	return out, nil
}

// UpsertGrant implements Store.UpsertGrant
func (s *MemoryStore) UpsertGrant(ctx context.Context, grant AccessGrant) error {
	if grant.Role == rbac.RoleOwner {
		return fmt.Errorf("%w: owner grants change only through ownership transfer", ErrInvalidInput)
	}

	lock := s.artifactLock(grant.ArtifactUUID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	grants, ok := s.grants[grant.ArtifactUUID]
	if !ok {
		return ErrNotFound
	}
	for i, g := range grants {
		if g.PrincipalURN == grant.PrincipalURN {
			if g.Role == rbac.RoleOwner {
				return fmt.Errorf("%w: cannot demote the owner", ErrInvalidInput)
			}
			grants[i] = grant
			return nil
		}
	}
	s.grants[grant.ArtifactUUID] = append(grants, grant)
	return nil
}

// RemoveGrant implements Store.RemoveGrant
func (s *MemoryStore) RemoveGrant(ctx context.Context, artifactID, principalURN string) error {
	lock := s.artifactLock(artifactID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	grants, ok := s.grants[artifactID]
	if !ok {
		return ErrNotFound
	}
	for i, g := range grants {
		if g.PrincipalURN != principalURN {
			continue
		}
		if g.Role == rbac.RoleOwner {
			return fmt.Errorf("%w: cannot remove the owner grant", ErrInvalidInput)
		}
		s.grants[artifactID] = append(grants[:i], grants[i+1:]...)
		return nil
	}
	return ErrNotFound
}

// TransferOwnership implements Store.TransferOwnership. The demotion and
// promotion happen under the artifact's mutex and the store's write lock,
// so no reader observes zero or two owners.
func (s *MemoryStore) TransferOwnership(ctx context.Context, artifactID, currentOwnerURN, newOwnerURN string) error {
	lock := s.artifactLock(artifactID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	artifact, ok := s.artifacts[artifactID]
	if !ok {
		return ErrNotFound
	}
	if artifact.OwnerURN != currentOwnerURN {
		return ErrForbidden
	}

	now := s.now()
	grants := s.grants[artifactID]

	ownerIdx := -1
	newIdx := -1
	for i, g := range grants {
		switch {
		case g.Role == rbac.RoleOwner && g.PrincipalURN == currentOwnerURN:
			ownerIdx = i
		case g.PrincipalURN == newOwnerURN:
			newIdx = i
		}
	}
	if ownerIdx < 0 {
		// Invariant violation: every artifact has exactly one owner grant
		return fmt.Errorf("owner grant missing for artifact %s", artifactID)
	}

	grants[ownerIdx].Role = rbac.RoleCollaborator
	if newIdx >= 0 {
		grants[newIdx].Role = rbac.RoleOwner
		grants[newIdx].GrantedAt = now
	} else {
		s.grants[artifactID] = append(grants, AccessGrant{
			ArtifactUUID: artifactID,
			PrincipalURN: newOwnerURN,
			Role:         rbac.RoleOwner,
			GrantedAt:    now,
			GrantedBy:    currentOwnerURN,
		})
	}
	artifact.OwnerURN = newOwnerURN
	artifact.UpdatedAt = now
	return nil
}

// sameDay reports whether two instants fall on the same UTC date
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
