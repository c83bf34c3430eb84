package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type wizardState struct {
	ExpeditionID string
	Step         int
}

func TestNewIDFormat(t *testing.T) {
	id := NewID("tr_")
	require.True(t, strings.HasPrefix(id, "tr_"))
	hex := strings.TrimPrefix(id, "tr_")
	assert.Len(t, hex, 32)
	assert.NotContains(t, hex, "-")
	assert.NotEqual(t, id, NewID("tr_"))
}

func TestMemoryStoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := NewMemory[wizardState]("cr_", time.Minute)

	id, err := s.Store(ctx, "u1", wizardState{ExpeditionID: "e1", Step: 1}, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "cr_"))

	got, ok, err := s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wizardState{ExpeditionID: "e1", Step: 1}, got)
}

func TestMemoryRetrieveRejectsOtherOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemory[wizardState]("cr_", time.Minute)

	id, err := s.Store(ctx, "u1", wizardState{Step: 1}, "")
	require.NoError(t, err)

	got, ok, err := s.Retrieve(ctx, id, "u2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, wizardState{}, got)

	// The owner still sees it.
	_, ok, err = s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryEntryExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemory[wizardState]("cr_", 30*time.Minute, WithClock(clock.Now))

	id, err := s.Store(ctx, "u1", wizardState{Step: 1}, "")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	_, ok, err := s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	assert.True(t, ok, "entry at exactly the ttl is still valid")

	clock.Advance(time.Second)
	_, ok, err = s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(), "expired entry is evicted on read")
}

func TestMemoryStoreRefreshesDeadline(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemory[wizardState]("cr_", 10*time.Minute, WithClock(clock.Now))

	id, err := s.Store(ctx, "u1", wizardState{Step: 1}, "")
	require.NoError(t, err)

	clock.Advance(8 * time.Minute)
	same, err := s.Store(ctx, "u1", wizardState{Step: 2}, id)
	require.NoError(t, err)
	assert.Equal(t, id, same)

	clock.Advance(8 * time.Minute)
	got, ok, err := s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Step)
}

func TestMemoryStoreNeverOverwritesForeignSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemory[wizardState]("cr_", time.Minute)

	id, err := s.Store(ctx, "u1", wizardState{Step: 1}, "")
	require.NoError(t, err)

	other, err := s.Store(ctx, "u2", wizardState{Step: 9}, id)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	got, ok, err := s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Step)
}

func TestMemoryStoreUnderUnknownID(t *testing.T) {
	ctx := context.Background()
	s := NewMemory[string]("form_", FormTTL)

	id, err := s.Store(ctx, "u1", "duration", "form:42:u1")
	require.NoError(t, err)
	assert.Equal(t, "form:42:u1", id)

	got, ok, err := s.Retrieve(ctx, "form:42:u1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "duration", got)
}

func TestMemoryRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory[wizardState]("cr_", time.Minute)

	id, err := s.Store(ctx, "u1", wizardState{}, "")
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, id))
	require.NoError(t, s.Remove(ctx, id))
	require.NoError(t, s.Remove(ctx, "never-existed"))

	_, ok, err := s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreSweepsExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemory[wizardState]("cr_", time.Minute, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		_, err := s.Store(ctx, fmt.Sprintf("u%d", i), wizardState{Step: i}, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, s.Len())

	clock.Advance(2 * time.Minute)
	_, err := s.Store(ctx, "late", wizardState{}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryDefaultTTL(t *testing.T) {
	s := NewMemory[int]("x_", 0)
	assert.Equal(t, DefaultTTL, s.ttl)
}

// TestSessionIsolationProperty tests Property 1: Session Isolation.
// *For any* set of owners storing sessions, a session is visible to its
// owner and to no other owner.
func TestSessionIsolationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		s := NewMemory[int]("p_", time.Hour)

		owners := rapid.SliceOfNDistinct(rapid.StringMatching(`u[0-9]{1,4}`), 2, 8, rapid.ID[string]).Draw(rt, "owners")
		ids := make(map[string]string, len(owners))
		for i, owner := range owners {
			id, err := s.Store(ctx, owner, i, "")
			if err != nil {
				rt.Fatalf("store failed: %v", err)
			}
			ids[owner] = id
		}

		for i, owner := range owners {
			for _, reader := range owners {
				got, ok, err := s.Retrieve(ctx, ids[owner], reader)
				if err != nil {
					rt.Fatalf("retrieve failed: %v", err)
				}
				if reader == owner {
					if !ok || got != i {
						rt.Fatalf("owner %s lost its session: ok=%v got=%d", owner, ok, got)
					}
				} else if ok {
					rt.Fatalf("reader %s saw session of %s", reader, owner)
				}
			}
		}
	})
}

// TestSessionExpiryProperty tests Property 2: Session Expiry.
// *For any* ttl and elapsed time, a session is readable iff the elapsed time
// does not exceed the ttl.
func TestSessionExpiryProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		clock := newFakeClock()
		ttl := time.Duration(rapid.IntRange(1, 3600).Draw(rt, "ttlSeconds")) * time.Second
		elapsed := time.Duration(rapid.IntRange(0, 7200).Draw(rt, "elapsedSeconds")) * time.Second

		s := NewMemory[string]("p_", ttl, WithClock(clock.Now))
		id, err := s.Store(ctx, "owner", "payload", "")
		if err != nil {
			rt.Fatalf("store failed: %v", err)
		}

		clock.Advance(elapsed)
		_, ok, err := s.Retrieve(ctx, id, "owner")
		if err != nil {
			rt.Fatalf("retrieve failed: %v", err)
		}
		if want := elapsed <= ttl; ok != want {
			rt.Fatalf("ttl=%s elapsed=%s: readable=%v, want %v", ttl, elapsed, ok, want)
		}
	})
}
