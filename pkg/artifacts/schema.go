package artifacts

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup
var schema = []string{
	`CREATE TABLE IF NOT EXISTS artifacts (
		uuid              UUID PRIMARY KEY,
		title             TEXT NOT NULL,
		short_description TEXT NOT NULL,
		long_description  TEXT,
		tags              TEXT[] NOT NULL DEFAULT '{}',
		authors           JSONB NOT NULL DEFAULT '[]',
		visibility        TEXT NOT NULL DEFAULT 'private',
		owner_urn         TEXT NOT NULL,
		sharing_key       TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS artifact_versions (
		artifact_uuid UUID NOT NULL REFERENCES artifacts(uuid) ON DELETE CASCADE,
		seq_number    BIGINT NOT NULL,
		slug          TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		tombstoned_at TIMESTAMPTZ,
		PRIMARY KEY (artifact_uuid, seq_number)
	)`,

	`CREATE TABLE IF NOT EXISTS access_grants (
		artifact_uuid UUID NOT NULL REFERENCES artifacts(uuid) ON DELETE CASCADE,
		principal_urn TEXT NOT NULL,
		role          TEXT NOT NULL,
		granted_at    TIMESTAMPTZ NOT NULL,
		granted_by    TEXT,
		PRIMARY KEY (artifact_uuid, principal_urn)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_artifacts_owner ON artifacts(owner_urn)`,
	`CREATE INDEX IF NOT EXISTS idx_versions_hash ON artifact_versions(content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_grants_principal ON access_grants(principal_urn)`,
}

// Migrate applies the artifact schema
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply artifact schema: %w", err)
		}
	}
	return nil
}
