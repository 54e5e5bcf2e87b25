// Package postgres provides PostgreSQL-backed stores for the interaction log
// and the notes action.
//
// Both stores share a single [pgxpool.Pool]. [Migrate] creates the tables on
// startup.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	logger := interaction.NewLogger(store.Interactions())
//	actions := notes.Actions(store.Notes())
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Interaction log
// ─────────────────────────────────────────────────────────────────────────────

const ddlInteractions = `
CREATE TABLE IF NOT EXISTS interactions (
    id             BIGSERIAL    PRIMARY KEY,
    turn_id        TEXT         NOT NULL DEFAULT '',
    timestamp      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    wake_detected  BOOLEAN      NOT NULL,
    transcript     TEXT         NOT NULL DEFAULT '',
    intent         TEXT         NOT NULL DEFAULT '',
    action         TEXT         NOT NULL DEFAULT '',
    confirmed      BOOLEAN,
    outcome        TEXT         NOT NULL,
    error          TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_interactions_timestamp
    ON interactions (timestamp);
`

// ─────────────────────────────────────────────────────────────────────────────
// Notes
// ─────────────────────────────────────────────────────────────────────────────

const ddlNotes = `
CREATE TABLE IF NOT EXISTS notes (
    seq         BIGSERIAL    PRIMARY KEY,
    id          TEXT         NOT NULL UNIQUE,
    content     TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the tables if they do not exist. It is idempotent and safe
// to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlInteractions, ddlNotes} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
