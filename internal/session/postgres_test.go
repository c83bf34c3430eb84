package session

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB creates a PostgreSQL container with the session schema.
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, EnsureSchema(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return pool, cleanup
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := NewPostgres[wizardState](pool, "transfer", "tr_", time.Minute)

	id, err := s.Store(ctx, "u1", wizardState{ExpeditionID: "e1", Step: 2}, "")
	require.NoError(t, err)

	got, ok, err := s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, wizardState{ExpeditionID: "e1", Step: 2}, got)

	_, ok, err = s.Retrieve(ctx, id, "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Remove(ctx, id))
	require.NoError(t, s.Remove(ctx, id))
	_, ok, err = s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStoreForeignAndExpired(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	clock := newFakeClock()
	s := NewPostgres[wizardState](pool, "create", "cr_", time.Minute, WithClock(clock.Now))

	id, err := s.Store(ctx, "u1", wizardState{Step: 1}, "")
	require.NoError(t, err)

	other, err := s.Store(ctx, "u2", wizardState{Step: 5}, id)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	got, ok, err := s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Step)

	clock.Advance(2 * time.Minute)
	_, ok, err = s.Retrieve(ctx, id, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}
