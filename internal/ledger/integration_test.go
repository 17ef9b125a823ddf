//go:build integration

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresLedger(t *testing.T) {
	ctx := context.Background()
	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("irdigest"),
		postgres.WithUsername("irdigest"),
		postgres.WithPassword("irdigest"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, DriverPostgres, dsn)
	require.NoError(t, err)
	defer s.Close()

	at := time.Date(2025, 6, 1, 8, 0, 0, 500_000_000, time.UTC)
	id, err := s.Insert(ctx, sampleRecord("pg.pdf", at))
	require.NoError(t, err)

	got, err := s.GetByFilename(ctx, "pg.pdf")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.True(t, got.AnalyzedAt.Equal(at))

	claims := s.Claims()
	ok, err := claims.Acquire(ctx, "pg.pdf", "w1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = claims.Acquire(ctx, "pg.pdf", "w2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, claims.Release(ctx, "pg.pdf", "w1", "done"))
	ok, err = claims.Acquire(ctx, "pg.pdf", "w2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeleteByID(ctx, id))
	require.ErrorIs(t, s.DeleteByID(ctx, id), ErrNotFound)
}

func TestRedisClaims(t *testing.T) {
	ctx := context.Background()
	ctr, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()
	claims := NewRedisClaims(client, "test:claim:")

	ok, err := claims.Acquire(ctx, "deck.pdf", "w1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = claims.Acquire(ctx, "deck.pdf", "w2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, claims.Release(ctx, "deck.pdf", "w2", "done"))
	ok, err = claims.Acquire(ctx, "deck.pdf", "w2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "non-owner release is a no-op")

	require.NoError(t, claims.Release(ctx, "deck.pdf", "w1", "done"))
	ok, err = claims.Acquire(ctx, "deck.pdf", "w2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = claims.Acquire(ctx, "short.pdf", "w1", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(100 * time.Millisecond)
	ok, err = claims.Acquire(ctx, "short.pdf", "w2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is free")
}
