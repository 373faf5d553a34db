package events

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

var eventSchema = []string{
	`CREATE TABLE IF NOT EXISTS artifact_events (
		id            UUID PRIMARY KEY,
		artifact_uuid UUID NOT NULL,
		version_seq   BIGINT NOT NULL,
		kind          TEXT NOT NULL,
		origin_urn    TEXT,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_version
		ON artifact_events(artifact_uuid, version_seq)`,
}

// PostgresRecorder persists events in PostgreSQL
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder creates a Postgres-backed recorder
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Migrate applies the event schema
func (r *PostgresRecorder) Migrate(ctx context.Context) error {
	for _, stmt := range eventSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply event schema: %w", err)
		}
	}
	return nil
}

// Record implements Recorder.Record
func (r *PostgresRecorder) Record(ctx context.Context, event *Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO artifact_events (id, artifact_uuid, version_seq, kind, origin_urn, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.ArtifactUUID, event.VersionSeq, string(event.Kind),
		nullIfEmpty(event.OriginURN), event.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: duplicate event id", ErrInvalidEvent)
		}
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Count implements Recorder.Count
func (r *PostgresRecorder) Count(ctx context.Context, artifactUUID string, versionSeq uint64) (*Counts, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM artifact_events
		 WHERE artifact_uuid = $1 AND version_seq = $2
		 GROUP BY kind`,
		artifactUUID, versionSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := &Counts{
		ArtifactUUID: artifactUUID,
		VersionSeq:   versionSeq,
		ByKind:       make(map[Kind]int64),
	}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts.ByKind[Kind(kind)] = n
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event counts: %w", err)
	}
	return counts, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
