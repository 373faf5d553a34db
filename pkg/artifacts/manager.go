package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/curio-sh/curio/pkg/auth"
	"github.com/curio-sh/curio/pkg/observability"
	"github.com/curio-sh/curio/pkg/rbac"
	"github.com/curio-sh/curio/pkg/storage"
)

// Manager is the registry's core service. It enforces authorization on
// every operation, keeps version sequencing and content reference counts
// consistent, and never reveals through an error whether a denied resource
// exists.
type Manager struct {
	store     Store
	objects   *storage.ObjectStore
	evaluator *rbac.Evaluator
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       Clock
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger wires structured logging
func WithLogger(logger *observability.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics wires Prometheus metrics
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithManagerClock overrides the time source, for tests
func WithManagerClock(now Clock) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a registry manager over a metadata store and a
// content-addressed object store
func NewManager(store Store, objects *storage.ObjectStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		objects:   objects,
		evaluator: rbac.NewEvaluator(),
		logger:    observability.NewLogger(observability.InfoLevel, nil),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateInput carries the caller-supplied fields for a new artifact
type CreateInput struct {
	Title            string     `json:"title"`
	ShortDescription string     `json:"short_description"`
	LongDescription  string     `json:"long_description,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Authors          []Author   `json:"authors,omitempty"`
	Visibility       Visibility `json:"visibility,omitempty"`
}

// Validate checks required fields and defaults visibility to private
func (in *CreateInput) Validate() error {
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.ShortDescription == "" {
		return fmt.Errorf("%w: short_description is required", ErrInvalidInput)
	}
	if in.Visibility == "" {
		in.Visibility = VisibilityPrivate
	}
	if !in.Visibility.Valid() {
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, in.Visibility)
	}
	return nil
}

// Create registers a new artifact owned by the caller
func (m *Manager) Create(ctx context.Context, caller rbac.Caller, input CreateInput) (*Artifact, error) {
	if caller.URN == "" {
		return nil, ErrUnauthenticated
	}
	if !caller.Scopes.Contains(auth.ScopeArtifactsWrite) && !caller.Scopes.Contains(auth.ScopeArtifactsAdmin) {
		m.deny(ctx, "create", "token scope insufficient")
		return nil, ErrInsufficientScope
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	sharingKey, err := GenerateSharingKey()
	if err != nil {
		return nil, err
	}

	now := m.now()
	artifact := &Artifact{
		UUID:             NewArtifactID(),
		Title:            input.Title,
		ShortDescription: input.ShortDescription,
		LongDescription:  input.LongDescription,
		Tags:             input.Tags,
		Authors:          input.Authors,
		Visibility:       input.Visibility,
		OwnerURN:         caller.URN,
		SharingKey:       sharingKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := m.store.CreateArtifact(ctx, artifact); err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.ArtifactsTotal.Inc()
	}
	m.logger.WithFields(map[string]interface{}{
		"artifact": artifact.UUID,
		"owner":    caller.URN,
	}).Info("artifact created")

	return artifact, nil
}

// Get returns the artifact if the caller may read it
func (m *Manager) Get(ctx context.Context, caller rbac.Caller, id string) (*Artifact, error) {
	return m.authorize(ctx, caller, id, rbac.OpRead)
}

// List returns every artifact the caller may read
func (m *Manager) List(ctx context.Context, caller rbac.Caller) ([]*Artifact, error) {
	all, err := m.store.ListArtifacts(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]*Artifact, 0, len(all))
	for _, artifact := range all {
		grants, err := m.store.ListGrants(ctx, artifact.UUID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		decision := m.evaluator.Authorize(ctx, caller, resourceView(artifact, grants), rbac.OpRead)
		if decision.Allowed {
			visible = append(visible, artifact)
		}
	}
	return visible, nil
}

// UpdateMetadata applies a partial metadata update, last-writer-wins
func (m *Manager) UpdateMetadata(ctx context.Context, caller rbac.Caller, id string, patch MetadataPatch) (*Artifact, error) {
	artifact, err := m.authorize(ctx, caller, id, rbac.OpWrite)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		if *patch.Title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		artifact.Title = *patch.Title
	}
	if patch.ShortDescription != nil {
		if *patch.ShortDescription == "" {
			return nil, fmt.Errorf("%w: short_description cannot be empty", ErrInvalidInput)
		}
		artifact.ShortDescription = *patch.ShortDescription
	}
	if patch.LongDescription != nil {
		artifact.LongDescription = *patch.LongDescription
	}
	if patch.Tags != nil {
		artifact.Tags = *patch.Tags
	}
	if patch.Authors != nil {
		artifact.Authors = *patch.Authors
	}
	if patch.Visibility != nil {
		if !patch.Visibility.Valid() {
			return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, *patch.Visibility)
		}
		artifact.Visibility = *patch.Visibility
	}
	artifact.UpdatedAt = m.now()

	if err := m.store.UpdateArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// Delete removes an artifact and releases the content references its live
// versions held. Owner only; deleting the last version of an artifact never
// triggers this implicitly.
func (m *Manager) Delete(ctx context.Context, caller rbac.Caller, id string) error {
	if _, err := m.authorize(ctx, caller, id, rbac.OpAdmin); err != nil {
		return err
	}

	versions, err := m.store.ListVersions(ctx, id, false)
	if err != nil {
		return err
	}
	if err := m.store.DeleteArtifact(ctx, id); err != nil {
		return err
	}

	for _, v := range versions {
		if err := m.objects.Release(ctx, v.ContentHash); err != nil {
			m.logger.WithError(err).WithField("hash", v.ContentHash).
				Warn("failed to release content reference during artifact deletion")
		}
	}

	if m.metrics != nil {
		m.metrics.ArtifactsTotal.Dec()
	}
	m.logger.WithField("artifact", id).Info("artifact deleted")
	return nil
}

// CreateVersion stores the content and appends a new version with a
// server-assigned sequence number. The content is hashed and verified
// before the version row exists; if the row cannot be written the content
// reference is released again.
func (m *Manager) CreateVersion(ctx context.Context, caller rbac.Caller, id string, content []byte) (*Version, error) {
	if _, err := m.authorize(ctx, caller, id, rbac.OpWrite); err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: version content is empty", ErrInvalidInput)
	}

	obj, err := m.objects.Put(ctx, content)
	if err != nil {
		return nil, err
	}

	version, err := m.store.CreateVersion(ctx, id, obj.Hash)
	if err != nil {
		if releaseErr := m.objects.Release(ctx, obj.Hash); releaseErr != nil {
			m.logger.WithError(releaseErr).WithField("hash", obj.Hash).
				Warn("failed to release content reference after version rollback")
		}
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.VersionsTotal.Inc()
	}
	m.logger.WithFields(map[string]interface{}{
		"artifact": id,
		"seq":      version.Seq,
		"slug":     version.Slug,
		"hash":     version.ContentHash,
	}).Info("version created")

	return version, nil
}

// GetVersion returns a live version. Tombstoned versions are gone.
func (m *Manager) GetVersion(ctx context.Context, caller rbac.Caller, id string, seq uint64) (*Version, error) {
	if _, err := m.authorize(ctx, caller, id, rbac.OpRead); err != nil {
		return nil, err
	}

	version, err := m.store.GetVersion(ctx, id, seq)
	if err != nil {
		return nil, err
	}
	if version.Tombstoned() {
		return nil, ErrNotFound
	}
	return version, nil
}

// ListVersions returns the artifact's live versions in sequence order
func (m *Manager) ListVersions(ctx context.Context, caller rbac.Caller, id string) ([]*Version, error) {
	if _, err := m.authorize(ctx, caller, id, rbac.OpRead); err != nil {
		return nil, err
	}
	return m.store.ListVersions(ctx, id, false)
}

// ResolveSlug finds the live version carrying the given day slug
func (m *Manager) ResolveSlug(ctx context.Context, caller rbac.Caller, id, slug string) (*Version, error) {
	versions, err := m.ListVersions(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Slug == slug {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteVersion tombstones a version and releases its content reference.
// The sequence number is never reused.
func (m *Manager) DeleteVersion(ctx context.Context, caller rbac.Caller, id string, seq uint64) error {
	if _, err := m.authorize(ctx, caller, id, rbac.OpWrite); err != nil {
		return err
	}

	version, err := m.store.GetVersion(ctx, id, seq)
	if err != nil {
		return err
	}
	if version.Tombstoned() {
		return ErrNotFound
	}

	if err := m.store.TombstoneVersion(ctx, id, seq); err != nil {
		return err
	}

	if err := m.objects.Release(ctx, version.ContentHash); err != nil {
		// The tombstone is already durable; the orphaned reference is
		// picked up by Reclaim
		m.logger.WithError(err).WithField("hash", version.ContentHash).
			Warn("failed to release content reference after tombstone")
	}

	if m.metrics != nil {
		m.metrics.VersionsTotal.Dec()
	}
	m.logger.WithFields(map[string]interface{}{
		"artifact": id,
		"seq":      seq,
	}).Info("version tombstoned")
	return nil
}

// GetContent returns the verified bytes of a live version. Quarantined
// content surfaces storage.ErrQuarantined and is never served.
func (m *Manager) GetContent(ctx context.Context, caller rbac.Caller, id string, seq uint64) ([]byte, *Version, error) {
	version, err := m.GetVersion(ctx, caller, id, seq)
	if err != nil {
		return nil, nil, err
	}

	data, err := m.objects.Get(ctx, version.ContentHash)
	if err != nil {
		if errors.Is(err, storage.ErrObjectMissing) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return data, version, nil
}

// ListGrants returns the access grants on an artifact. Owner only.
func (m *Manager) ListGrants(ctx context.Context, caller rbac.Caller, id string) ([]AccessGrant, error) {
	if _, err := m.authorize(ctx, caller, id, rbac.OpAdmin); err != nil {
		return nil, err
	}
	return m.store.ListGrants(ctx, id)
}

// SetGrant creates or updates a collaborator or viewer grant. Owner only;
// the owner grant itself moves only through TransferOwnership.
func (m *Manager) SetGrant(ctx context.Context, caller rbac.Caller, id, principalURN string, role rbac.Role) error {
	if _, err := m.authorize(ctx, caller, id, rbac.OpAdmin); err != nil {
		return err
	}
	if principalURN == "" {
		return fmt.Errorf("%w: principal is required", ErrInvalidInput)
	}
	if role != rbac.RoleCollaborator && role != rbac.RoleViewer {
		return fmt.Errorf("%w: grantable roles are collaborator and viewer", ErrInvalidInput)
	}

	return m.store.UpsertGrant(ctx, AccessGrant{
		ArtifactUUID: id,
		PrincipalURN: principalURN,
		Role:         role,
		GrantedAt:    m.now(),
		GrantedBy:    caller.URN,
	})
}

// RemoveGrant removes a non-owner grant. Owner only.
func (m *Manager) RemoveGrant(ctx context.Context, caller rbac.Caller, id, principalURN string) error {
	if _, err := m.authorize(ctx, caller, id, rbac.OpAdmin); err != nil {
		return err
	}
	return m.store.RemoveGrant(ctx, id, principalURN)
}

// TransferOwnership atomically moves the owner role to another principal.
// The previous owner keeps collaborator access; at no point does the
// artifact have zero or two owners.
func (m *Manager) TransferOwnership(ctx context.Context, caller rbac.Caller, id, newOwnerURN string) error {
	artifact, err := m.authorize(ctx, caller, id, rbac.OpAdmin)
	if err != nil {
		return err
	}
	if newOwnerURN == "" {
		return fmt.Errorf("%w: new owner is required", ErrInvalidInput)
	}
	if newOwnerURN == artifact.OwnerURN {
		return nil
	}

	if err := m.store.TransferOwnership(ctx, id, artifact.OwnerURN, newOwnerURN); err != nil {
		return err
	}

	m.logger.WithFields(map[string]interface{}{
		"artifact":  id,
		"new_owner": newOwnerURN,
		"old_owner": artifact.OwnerURN,
	}).Info("ownership transferred")
	return nil
}

// authorize loads the artifact and its grants and runs the access check.
// Denials and missing artifacts both come back as errors the API layer
// renders identically.
func (m *Manager) authorize(ctx context.Context, caller rbac.Caller, id string, op rbac.Operation) (*Artifact, error) {
	artifact, err := m.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	grants, err := m.store.ListGrants(ctx, id)
	if err != nil {
		return nil, err
	}

	decision := m.evaluator.Authorize(ctx, caller, resourceView(artifact, grants), op)
	if !decision.Allowed {
		m.deny(ctx, string(op), decision.Reason)
		return nil, ErrForbidden
	}
	return artifact, nil
}

func (m *Manager) deny(ctx context.Context, operation, reason string) {
	if m.metrics != nil {
		m.metrics.AuthDenialsTotal.WithLabelValues(operation).Inc()
	}
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"operation": operation,
		"reason":    reason,
	}).Debug("authorization denied")
}

// resourceView projects an artifact and its grants into the evaluator's
// model
func resourceView(artifact *Artifact, grants []AccessGrant) rbac.Resource {
	out := rbac.Resource{
		OwnerURN:   artifact.OwnerURN,
		Public:     artifact.Visibility == VisibilityPublic,
		SharingKey: artifact.SharingKey,
		Grants:     make([]rbac.Grant, 0, len(grants)),
	}
	for _, g := range grants {
		out.Grants = append(out.Grants, rbac.Grant{
			PrincipalURN: g.PrincipalURN,
			Role:         g.Role,
		})
	}
	return out
}
