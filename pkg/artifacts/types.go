package artifacts

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/curio-sh/curio/pkg/rbac"
)

// Visibility controls who may read an artifact without an explicit grant
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Author describes one listed author of an artifact
type Author struct {
	FullName    string `json:"full_name"`
	Affiliation string `json:"affiliation,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Artifact is a registered research object with mutable metadata and an
// append-only collection of versions
type Artifact struct {
	UUID             string     `json:"uuid"`
	Title            string     `json:"title"`
	ShortDescription string     `json:"short_description"`
	LongDescription  string     `json:"long_description,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Authors          []Author   `json:"authors,omitempty"`
	Visibility       Visibility `json:"visibility"`
	OwnerURN         string     `json:"owner_urn"`
	SharingKey       string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Version is an immutable snapshot of an artifact's content. The sequence
// number is assigned by the server, monotonically increasing within the
// artifact, and never reused even after tombstoning.
type Version struct {
	ArtifactUUID string     `json:"artifact_uuid"`
	Seq          uint64     `json:"seq"`
	Slug         string     `json:"slug"`
	ContentHash  string     `json:"content_hash"`
	CreatedAt    time.Time  `json:"created_at"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// Tombstoned reports whether the version has been soft-deleted
func (v *Version) Tombstoned() bool {
	return v.TombstonedAt != nil
}

// AccessGrant ties a principal to a role on one artifact. Exactly one grant
// per artifact carries the owner role at all times.
type AccessGrant struct {
	ArtifactUUID string    `json:"artifact_uuid"`
	PrincipalURN string    `json:"principal_urn"`
	Role         rbac.Role `json:"role"`
	GrantedAt    time.Time `json:"granted_at"`
	GrantedBy    string    `json:"granted_by,omitempty"`
}

// MetadataPatch is a partial update of artifact metadata. Nil fields are
// left unchanged; updates are last-writer-wins.
type MetadataPatch struct {
	Title            *string     `json:"title,omitempty"`
	ShortDescription *string     `json:"short_description,omitempty"`
	LongDescription  *string     `json:"long_description,omitempty"`
	Tags             *[]string   `json:"tags,omitempty"`
	Authors          *[]Author   `json:"authors,omitempty"`
	Visibility       *Visibility `json:"visibility,omitempty"`
}

// NewArtifactID returns a fresh artifact identifier
func NewArtifactID() string {
	return uuid.New().String()
}

const sharingKeyBytes = 32

// GenerateSharingKey returns a random URL-safe sharing key. Presenting the
// key grants read access to a private artifact.
func GenerateSharingKey() (string, error) {
	buf := make([]byte, sharingKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate sharing key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VersionSlug renders the day-based slug for the nth version created on a
// given day: YYYY-MM-DD for the first, YYYY-MM-DD.n after that.
func VersionSlug(createdAt time.Time, priorToday int) string {
	slug := createdAt.UTC().Format("2006-01-02")
	if priorToday > 0 {
		slug = fmt.Sprintf("%s.%d", slug, priorToday)
	}
	return slug
}
