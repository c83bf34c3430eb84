package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Schema creates the table backing Postgres stores.
const Schema = `
	CREATE TABLE IF NOT EXISTS wizard_sessions (
		id TEXT PRIMARY KEY,
		kind VARCHAR(50) NOT NULL,
		owner_id VARCHAR(64) NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wizard_sessions_kind_created ON wizard_sessions(kind, created_at);
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create wizard_sessions table: %w", err)
	}
	return nil
}

// Postgres is a Store shared by every bot instance connected to the same
// database. Payloads are stored as JSON, so T must round-trip through
// encoding/json.
type Postgres[T any] struct {
	pool   *pgxpool.Pool
	kind   string
	prefix string
	ttl    time.Duration
	opts   options
}

var _ Store[struct{}] = (*Postgres[struct{}])(nil)

// NewPostgres creates a store for one wizard kind. Ids start with prefix.
func NewPostgres[T any](pool *pgxpool.Pool, kind, prefix string, ttl time.Duration, opts ...Option) *Postgres[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Postgres[T]{
		pool:   pool,
		kind:   kind,
		prefix: prefix,
		ttl:    ttl,
		opts:   buildOptions(opts),
	}
}

// Store implements Store.
func (p *Postgres[T]) Store(ctx context.Context, ownerID string, payload T, existingID string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode session payload: %w", err)
	}

	now := p.opts.now().UTC()
	id := existingID
	if id != "" {
		ok, err := p.upsert(ctx, id, ownerID, data, now)
		if err != nil {
			return "", err
		}
		if !ok {
			log.Warn().Str("session_id", id).Str("owner_id", ownerID).Msg("Session id owned by another user, issuing a fresh one")
			id = ""
		}
	}
	if id == "" {
		id = p.opts.newID(p.prefix)
		if _, err := p.upsert(ctx, id, ownerID, data, now); err != nil {
			return "", err
		}
	}

	if err := p.sweep(ctx, now); err != nil {
		log.Warn().Err(err).Str("kind", p.kind).Msg("Failed to sweep expired sessions")
	}
	return id, nil
}

// upsert writes the row unless id exists with a live entry of another owner.
func (p *Postgres[T]) upsert(ctx context.Context, id, ownerID string, data []byte, now time.Time) (bool, error) {
	const query = `
		INSERT INTO wizard_sessions (id, kind, owner_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, payload = EXCLUDED.payload, created_at = EXCLUDED.created_at
		WHERE wizard_sessions.owner_id = EXCLUDED.owner_id OR wizard_sessions.created_at < $6
	`
	tag, err := p.pool.Exec(ctx, query, id, p.kind, ownerID, data, now, now.Add(-p.ttl))
	if err != nil {
		return false, fmt.Errorf("failed to store session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres[T]) sweep(ctx context.Context, now time.Time) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM wizard_sessions WHERE kind = $1 AND created_at < $2`, p.kind, now.Add(-p.ttl))
	return err
}

// Retrieve implements Store.
func (p *Postgres[T]) Retrieve(ctx context.Context, id, ownerID string) (T, bool, error) {
	var zero T

	const query = `
		SELECT owner_id, payload, created_at
		FROM wizard_sessions
		WHERE id = $1 AND kind = $2
	`
	var (
		owner     string
		data      []byte
		createdAt time.Time
	)
	err := p.pool.QueryRow(ctx, query, id, p.kind).Scan(&owner, &data, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to read session: %w", err)
	}

	if p.opts.now().Sub(createdAt) > p.ttl {
		if err := p.Remove(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Failed to evict expired session")
		}
		return zero, false, nil
	}
	if owner != ownerID {
		log.Warn().Str("session_id", id).Str("owner_id", ownerID).Msg("Session read by non-owner")
		return zero, false, nil
	}

	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return zero, false, fmt.Errorf("failed to decode session payload: %w", err)
	}
	return payload, true, nil
}

// Remove implements Store.
func (p *Postgres[T]) Remove(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM wizard_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
