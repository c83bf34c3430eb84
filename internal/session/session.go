// Package session provides the ownership-scoped, TTL-bound store that carries
// wizard state across independent interactions.
//
// A read returns a miss when the id is unknown, when the entry is older than
// the TTL (the entry is evicted), or when the caller is not the owner. Callers
// cannot tell these cases apart and must answer all of them with the same
// "session expired" reply.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTTL bounds the lifetime of a wizard session.
	DefaultTTL = 30 * time.Minute
	// FormTTL bounds how long a pending text-entry prompt waits for input.
	FormTTL = 60 * time.Second
)

// Store is the surface consumed by feature wizards.
type Store[T any] interface {
	// Store creates a session or overwrites existingID, refreshing its deadline.
	Store(ctx context.Context, ownerID string, payload T, existingID string) (string, error)
	// Retrieve returns the payload and true, or false on any miss.
	Retrieve(ctx context.Context, id, ownerID string) (T, bool, error)
	// Remove deletes id. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func(prefix string) string
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func(prefix string) string) Option {
	return func(o *options) { o.newID = fn }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, newID: NewID}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewID returns prefix followed by 32 hex characters.
// The result stays well under Telegram's 64-byte callback data limit.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type entry[T any] struct {
	ownerID   string
	payload   T
	createdAt time.Time
}

// Memory is a process-local Store. It is safe for concurrent use.
type Memory[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	prefix  string
	ttl     time.Duration
	opts    options
}

var _ Store[struct{}] = (*Memory[struct{}])(nil)

// NewMemory creates a memory store whose ids start with prefix.
func NewMemory[T any](prefix string, ttl time.Duration, opts ...Option) *Memory[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory[T]{
		entries: make(map[string]*entry[T]),
		prefix:  prefix,
		ttl:     ttl,
		opts:    buildOptions(opts),
	}
}

// Store implements Store. Expired entries are swept on every call.
func (m *Memory[T]) Store(ctx context.Context, ownerID string, payload T, existingID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.now()
	id := existingID
	if id != "" {
		// A foreign session is never overwritten.
		if cur, ok := m.entries[id]; ok && cur.ownerID != ownerID && !m.expired(cur, now) {
			log.Warn().Str("session_id", id).Str("owner_id", ownerID).Msg("Session id owned by another user, issuing a fresh one")
			id = ""
		}
	}
	if id == "" {
		id = m.freshID()
	}

	m.entries[id] = &entry[T]{ownerID: ownerID, payload: payload, createdAt: now}
	m.sweep(now)

	log.Debug().Str("session_id", id).Str("owner_id", ownerID).Bool("update", id == existingID).Msg("Stored session")
	return id, nil
}

// Retrieve implements Store.
func (m *Memory[T]) Retrieve(ctx context.Context, id, ownerID string) (T, bool, error) {
	var zero T

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		log.Debug().Str("session_id", id).Msg("Session not found")
		return zero, false, nil
	}
	if m.expired(e, m.opts.now()) {
		delete(m.entries, id)
		log.Debug().Str("session_id", id).Msg("Session expired")
		return zero, false, nil
	}
	if e.ownerID != ownerID {
		log.Warn().Str("session_id", id).Str("owner_id", ownerID).Msg("Session read by non-owner")
		return zero, false, nil
	}
	return e.payload, true, nil
}

// Remove implements Store.
func (m *Memory[T]) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory[T]) expired(e *entry[T], now time.Time) bool {
	return now.Sub(e.createdAt) > m.ttl
}

func (m *Memory[T]) sweep(now time.Time) {
	for id, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, id)
		}
	}
}

func (m *Memory[T]) freshID() string {
	for {
		id := m.opts.newID(m.prefix)
		if _, taken := m.entries[id]; !taken {
			return id
		}
	}
}
