// Package postgres provides a PostgreSQL-backed [journal.Journal].
//
// Completions are stored in a single recognition_completions table with a
// GIN full-text index over the recognised text. [Migrate] creates the schema
// and is run by [NewStore] on every start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Record(ctx, entry)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCompletions = `
CREATE TABLE IF NOT EXISTS recognition_completions (
    id           BIGSERIAL    PRIMARY KEY,
    channel_id   TEXT         NOT NULL,
    request_id   BIGINT       NOT NULL DEFAULT 0,
    cause        TEXT         NOT NULL,
    text         TEXT         NOT NULL DEFAULT '',
    elapsed_ns   BIGINT       NOT NULL DEFAULT 0,
    completed_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_completions_channel_id
    ON recognition_completions (channel_id);

CREATE INDEX IF NOT EXISTS idx_completions_completed_at
    ON recognition_completions (completed_at);

CREATE INDEX IF NOT EXISTS idx_completions_fts
    ON recognition_completions USING GIN (to_tsvector('simple', text));
`

// Migrate creates the journal schema. It is idempotent and safe to call on
// every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCompletions); err != nil {
		return fmt.Errorf("journal postgres: migrate: %w", err)
	}
	return nil
}
