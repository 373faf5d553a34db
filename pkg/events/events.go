// Package events records artifact usage events (launches, citations,
// forks) and rolls them up into per-version access counts. Recording
// requires the artifacts:write_metrics scope; events are append-only.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a usage event
type Kind string

const (
	// KindLaunch records an execution of the version's contents
	KindLaunch Kind = "launch"
	// KindCite records a citation request
	KindCite Kind = "cite"
	// KindFork records a new artifact derived from this version
	KindFork Kind = "fork"
)

// Valid reports whether k is a known event kind
func (k Kind) Valid() bool {
	return k == KindLaunch || k == KindCite || k == KindFork
}

// Event is one recorded usage of an artifact version
type Event struct {
	ID           string    `json:"id"`
	ArtifactUUID string    `json:"artifact_uuid"`
	VersionSeq   uint64    `json:"version_seq"`
	Kind         Kind      `json:"kind"`
	OriginURN    string    `json:"origin_urn,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Counts is the per-kind rollup for one artifact version
type Counts struct {
	ArtifactUUID string         `json:"artifact_uuid"`
	VersionSeq   uint64         `json:"version_seq"`
	ByKind       map[Kind]int64 `json:"by_kind"`
	Total        int64          `json:"total"`
}

// ErrInvalidEvent indicates a malformed event submission
var ErrInvalidEvent = errors.New("invalid event")

// Recorder persists usage events and serves their rollups
type Recorder interface {
	// Record appends an event
	Record(ctx context.Context, event *Event) error
	// Count returns the rollup for one artifact version
	Count(ctx context.Context, artifactUUID string, versionSeq uint64) (*Counts, error)
}

// NewEvent builds a validated event with a fresh identifier
func NewEvent(artifactUUID string, versionSeq uint64, kind Kind, originURN string, at time.Time) (*Event, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, kind)
	}
	if artifactUUID == "" {
		return nil, fmt.Errorf("%w: artifact is required", ErrInvalidEvent)
	}
	return &Event{
		ID:           uuid.New().String(),
		ArtifactUUID: artifactUUID,
		VersionSeq:   versionSeq,
		Kind:         kind,
		OriginURN:    originURN,
		CreatedAt:    at,
	}, nil
}
