package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/curio-sh/curio/pkg/rbac"
)

// PostgresStore implements Store on PostgreSQL. Per-artifact serialization
// uses a row lock on the artifact (SELECT ... FOR UPDATE), which makes
// sequence assignment an atomic increment bound to the artifact's identity
// rather than a read-then-write.
type PostgresStore struct {
	db  *sql.DB
	now Clock
}

// NewPostgresStore wraps an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// WithClock overrides the store's time source, for tests
func (s *PostgresStore) WithClock(now Clock) *PostgresStore {
	s.now = now
	return s
}

// CreateArtifact implements Store.CreateArtifact
func (s *PostgresStore) CreateArtifact(ctx context.Context, artifact *Artifact) error {
	authors, err := json.Marshal(artifact.Authors)
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (uuid, title, short_description, long_description,
			tags, authors, visibility, owner_urn, sharing_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		artifact.UUID, artifact.Title, artifact.ShortDescription,
		nullString(artifact.LongDescription), pq.Array(artifact.Tags), authors,
		artifact.Visibility, artifact.OwnerURN, artifact.SharingKey,
		artifact.CreatedAt, artifact.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("artifact %s: %w", artifact.UUID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert artifact: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO access_grants (artifact_uuid, principal_urn, role, granted_at)
		VALUES ($1, $2, $3, $4)`,
		artifact.UUID, artifact.OwnerURN, rbac.RoleOwner, artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert owner grant: %w", err)
	}

	return tx.Commit()
}

// GetArtifact implements Store.GetArtifact
func (s *PostgresStore) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, title, short_description, long_description, tags, authors,
		       visibility, owner_urn, sharing_key, created_at, updated_at
		FROM artifacts WHERE uuid = $1`, id)
	return scanArtifact(row)
}

// ListArtifacts implements Store.ListArtifacts
func (s *PostgresStore) ListArtifacts(ctx context.Context) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, title, short_description, long_description, tags, authors,
		       visibility, owner_urn, sharing_key, created_at, updated_at
		FROM artifacts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact)
	}
	return out, rows.Err()
}

// UpdateArtifact implements Store.UpdateArtifact
func (s *PostgresStore) UpdateArtifact(ctx context.Context, artifact *Artifact) error {
	authors, err := json.Marshal(artifact.Authors)
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE artifacts
		SET title = $2, short_description = $3, long_description = $4,
		    tags = $5, authors = $6, visibility = $7, updated_at = $8
		WHERE uuid = $1`,
		artifact.UUID, artifact.Title, artifact.ShortDescription,
		nullString(artifact.LongDescription), pq.Array(artifact.Tags), authors,
		artifact.Visibility, artifact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update artifact: %w", err)
	}
	return requireRow(result)
}

// DeleteArtifact implements Store.DeleteArtifact
func (s *PostgresStore) DeleteArtifact(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return requireRow(result)
}

// CreateVersion implements Store.CreateVersion. The artifact row lock
// serializes concurrent creations so COALESCE(MAX+1) cannot race.
func (s *PostgresStore) CreateVersion(ctx context.Context, artifactID, contentHash string) (*Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx,
		`SELECT uuid FROM artifacts WHERE uuid = $1 FOR UPDATE`, artifactID,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock artifact: %w", err)
	}

	now := s.now()

	var priorToday int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM artifact_versions
		WHERE artifact_uuid = $1 AND created_at::date = $2::date`,
		artifactID, now,
	).Scan(&priorToday)
	if err != nil {
		return nil, fmt.Errorf("failed to count versions: %w", err)
	}

	version := &Version{
		ArtifactUUID: artifactID,
		Slug:         VersionSlug(now, priorToday),
		ContentHash:  contentHash,
		CreatedAt:    now,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO artifact_versions (artifact_uuid, seq_number, slug, content_hash, created_at)
		SELECT $1, COALESCE(MAX(seq_number), 0) + 1, $2, $3, $4
		FROM artifact_versions WHERE artifact_uuid = $1
		RETURNING seq_number`,
		artifactID, version.Slug, contentHash, now,
	).Scan(&version.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflictingSequence
		}
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit version: %w", err)
	}
	return version, nil
}

// GetVersion implements Store.GetVersion
func (s *PostgresStore) GetVersion(ctx context.Context, artifactID string, seq uint64) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT artifact_uuid, seq_number, slug, content_hash, created_at, tombstoned_at
		FROM artifact_versions WHERE artifact_uuid = $1 AND seq_number = $2`,
		artifactID, seq)
	return scanVersion(row)
}

// ListVersions implements Store.ListVersions
func (s *PostgresStore) ListVersions(ctx context.Context, artifactID string, includeTombstoned bool) ([]*Version, error) {
	if _, err := s.GetArtifact(ctx, artifactID); err != nil {
		return nil, err
	}

	query := `
		SELECT artifact_uuid, seq_number, slug, content_hash, created_at, tombstoned_at
		FROM artifact_versions WHERE artifact_uuid = $1`
	if !includeTombstoned {
		query += ` AND tombstoned_at IS NULL`
	}
	query += ` ORDER BY seq_number`

	rows, err := s.db.QueryContext(ctx, query, artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, version)
	}
	return out, rows.Err()
}

// TombstoneVersion implements Store.TombstoneVersion
func (s *PostgresStore) TombstoneVersion(ctx context.Context, artifactID string, seq uint64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE artifact_versions SET tombstoned_at = $3
		WHERE artifact_uuid = $1 AND seq_number = $2 AND tombstoned_at IS NULL`,
		artifactID, seq, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to tombstone version: %w", err)
	}
	return requireRow(result)
}

// ListGrants implements Store.ListGrants
func (s *PostgresStore) ListGrants(ctx context.Context, artifactID string) ([]AccessGrant, error) {
	if _, err := s.GetArtifact(ctx, artifactID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_uuid, principal_urn, role, granted_at, granted_by
		FROM access_grants WHERE artifact_uuid = $1 ORDER BY granted_at`,
		artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var out []AccessGrant
	for rows.Next() {
		var grant AccessGrant
		var grantedBy sql.NullString
		if err := rows.Scan(&grant.ArtifactUUID, &grant.PrincipalURN, &grant.Role,
			&grant.GrantedAt, &grantedBy); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grant.GrantedBy = grantedBy.String
		out = append(out, grant)
	}
	return out, rows.Err()
}

// UpsertGrant implements Store.UpsertGrant
func (s *PostgresStore) UpsertGrant(ctx context.Context, grant AccessGrant) error {
	if grant.Role == rbac.RoleOwner {
		return fmt.Errorf("%w: owner grants change only through ownership transfer", ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO access_grants (artifact_uuid, principal_urn, role, granted_at, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (artifact_uuid, principal_urn)
		DO UPDATE SET role = EXCLUDED.role, granted_at = EXCLUDED.granted_at,
		              granted_by = EXCLUDED.granted_by
		WHERE access_grants.role <> 'owner'`,
		grant.ArtifactUUID, grant.PrincipalURN, grant.Role,
		grant.GrantedAt, nullString(grant.GrantedBy),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to upsert grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: cannot demote the owner", ErrInvalidInput)
	}
	return nil
}

// RemoveGrant implements Store.RemoveGrant
func (s *PostgresStore) RemoveGrant(ctx context.Context, artifactID, principalURN string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM access_grants
		WHERE artifact_uuid = $1 AND principal_urn = $2 AND role <> 'owner'`,
		artifactID, principalURN,
	)
	if err != nil {
		return fmt.Errorf("failed to remove grant: %w", err)
	}
	return requireRow(result)
}

// TransferOwnership implements Store.TransferOwnership. The whole swap runs
// in one transaction under the artifact row lock.
func (s *PostgresStore) TransferOwnership(ctx context.Context, artifactID, currentOwnerURN, newOwnerURN string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerURN string
	err = tx.QueryRowContext(ctx,
		`SELECT owner_urn FROM artifacts WHERE uuid = $1 FOR UPDATE`, artifactID,
	).Scan(&ownerURN)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock artifact: %w", err)
	}
	if ownerURN != currentOwnerURN {
		return ErrForbidden
	}

	now := s.now()

	_, err = tx.ExecContext(ctx, `
		UPDATE access_grants SET role = 'collaborator'
		WHERE artifact_uuid = $1 AND principal_urn = $2 AND role = 'owner'`,
		artifactID, currentOwnerURN,
	)
	if err != nil {
		return fmt.Errorf("failed to demote owner: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO access_grants (artifact_uuid, principal_urn, role, granted_at, granted_by)
		VALUES ($1, $2, 'owner', $3, $4)
		ON CONFLICT (artifact_uuid, principal_urn)
		DO UPDATE SET role = 'owner', granted_at = EXCLUDED.granted_at,
		              granted_by = EXCLUDED.granted_by`,
		artifactID, newOwnerURN, now, currentOwnerURN,
	)
	if err != nil {
		return fmt.Errorf("failed to promote new owner: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE artifacts SET owner_urn = $2, updated_at = $3 WHERE uuid = $1`,
		artifactID, newOwnerURN, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update artifact owner: %w", err)
	}

	return tx.Commit()
}

// LiveContentRefs returns the reference count per content hash across all
// live versions, along with the earliest reference time. Used at startup to
// rebuild the object store's index.
func (s *PostgresStore) LiveContentRefs(ctx context.Context) (map[string]ContentRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, COUNT(*), MIN(created_at)
		FROM artifact_versions WHERE tombstoned_at IS NULL
		GROUP BY content_hash`)
	if err != nil {
		return nil, fmt.Errorf("failed to query content references: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ContentRef)
	for rows.Next() {
		var hash string
		var ref ContentRef
		if err := rows.Scan(&hash, &ref.Count, &ref.FirstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan content reference: %w", err)
		}
		out[hash] = ref
	}
	return out, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanArtifact scans one artifact row
func scanArtifact(row rowScanner) (*Artifact, error) {
	var artifact Artifact
	var longDescription sql.NullString
	var authorsJSON []byte

	err := row.Scan(&artifact.UUID, &artifact.Title, &artifact.ShortDescription,
		&longDescription, pq.Array(&artifact.Tags), &authorsJSON,
		&artifact.Visibility, &artifact.OwnerURN, &artifact.SharingKey,
		&artifact.CreatedAt, &artifact.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifact: %w", err)
	}

	artifact.LongDescription = longDescription.String
	if len(authorsJSON) > 0 {
		if err := json.Unmarshal(authorsJSON, &artifact.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	return &artifact, nil
}

// scanVersion scans one version row
func scanVersion(row rowScanner) (*Version, error) {
	var version Version
	var tombstonedAt sql.NullTime

	err := row.Scan(&version.ArtifactUUID, &version.Seq, &version.Slug,
		&version.ContentHash, &version.CreatedAt, &tombstonedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	if tombstonedAt.Valid {
		t := tombstonedAt.Time
		version.TombstonedAt = &t
	}
	return &version, nil
}

// requireRow maps a zero-row result to ErrNotFound
func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// nullString converts an empty string to SQL NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation reports whether err is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isForeignKeyViolation reports whether err is a foreign key violation
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
