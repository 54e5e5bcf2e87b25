package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lumo/internal/action/notes"
	"github.com/MrWong99/lumo/internal/interaction"
)

// Compile-time interface checks.
var (
	_ interaction.Store = (*InteractionStore)(nil)
	_ notes.Store       = (*NoteStore)(nil)
)

// Store owns the connection pool. All operations are safe for concurrent use.
type Store struct {
	pool         *pgxpool.Pool
	interactions *InteractionStore
	notes        *NoteStore
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{
		pool:         pool,
		interactions: &InteractionStore{pool: pool},
		notes:        &NoteStore{pool: pool, now: time.Now},
	}, nil
}

// Interactions returns the interaction log store.
func (s *Store) Interactions() *InteractionStore { return s.interactions }

// Notes returns the note store.
func (s *Store) Notes() *NoteStore { return s.notes }

// Ping checks connectivity; it backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// InteractionStore is the interactions table. Rows are inserted, never updated.
type InteractionStore struct {
	pool *pgxpool.Pool
}

// Append implements [interaction.Store].
func (s *InteractionStore) Append(ctx context.Context, rec interaction.Record) error {
	const q = `
		INSERT INTO interactions
		    (turn_id, timestamp, wake_detected, transcript, intent, action, confirmed, outcome, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		rec.TurnID,
		rec.Timestamp,
		rec.WakeDetected,
		rec.Transcript,
		rec.Intent,
		rec.Action,
		rec.Confirmed,
		string(rec.Outcome),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("interaction store: append: %w", err)
	}
	return nil
}

// Recent implements [interaction.Store].
func (s *InteractionStore) Recent(ctx context.Context, n int) ([]interaction.Record, error) {
	const cols = `turn_id, timestamp, wake_detected, transcript, intent, action, confirmed, outcome, error`

	var (
		rows pgx.Rows
		err  error
	)
	if n > 0 {
		rows, err = s.pool.Query(ctx, `SELECT `+cols+` FROM interactions ORDER BY id DESC LIMIT $1`, n)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+cols+` FROM interactions ORDER BY id DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("interaction store: recent: %w", err)
	}
	defer rows.Close()

	var out []interaction.Record
	for rows.Next() {
		var (
			r       interaction.Record
			outcome string
		)
		if err := rows.Scan(&r.TurnID, &r.Timestamp, &r.WakeDetected, &r.Transcript,
			&r.Intent, &r.Action, &r.Confirmed, &outcome, &r.Error); err != nil {
			return nil, fmt.Errorf("interaction store: scan: %w", err)
		}
		r.Outcome = interaction.Outcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interaction store: rows: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// NoteStore is the notes table.
type NoteStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Add implements [notes.Store].
func (s *NoteStore) Add(ctx context.Context, content string) (notes.Note, error) {
	n := notes.Note{ID: uuid.NewString(), Content: content, CreatedAt: s.now().UTC()}
	const q = `INSERT INTO notes (id, content, created_at) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, n.ID, n.Content, n.CreatedAt); err != nil {
		return notes.Note{}, fmt.Errorf("note store: add: %w", err)
	}
	return n, nil
}

// List implements [notes.Store].
func (s *NoteStore) List(ctx context.Context) ([]notes.Note, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, content, created_at FROM notes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("note store: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notes.Note, error) {
		var n notes.Note
		err := row.Scan(&n.ID, &n.Content, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("note store: scan: %w", err)
	}
	return out, nil
}

// Clear implements [notes.Store].
func (s *NoteStore) Clear(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notes`)
	if err != nil {
		return 0, fmt.Errorf("note store: clear: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
