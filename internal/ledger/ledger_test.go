package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(filename string, at time.Time) deck.Record {
	return deck.Record{
		Filename:         filename,
		AnalyzedAt:       at,
		PageDetail:       "## [Page 1] Raw Data Analysis\nRevenue 1.2B KRW",
		StrategicSummary: "### 1. Problem Definition\nNot stated in source",
		ContentSHA256:    "abc123",
	}
}

func TestInsertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 4, 2, 9, 15, 30, 123456789, time.FixedZone("KST", 9*3600))
	in := sampleRecord("deck.pdf", at)

	id, err := s.Insert(ctx, in)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)

	want := in.Normalize()
	want.ID = id
	assert.Equal(t, want, *got)
	assert.True(t, got.AnalyzedAt.Equal(at.Truncate(time.Millisecond)))

	byName, err := s.GetByFilename(ctx, "deck.pdf")
	require.NoError(t, err)
	assert.Equal(t, *got, *byName)
}

func TestInsertValidates(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(context.Background(), deck.Record{Filename: "x.pdf"})
	require.ErrorIs(t, err, deck.ErrInvalidRecord)
}

func TestExistsByFilename(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.ExistsByFilename(ctx, "a.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Insert(ctx, sampleRecord("a.pdf", time.Now()))
	require.NoError(t, err)

	ok, err = s.ExistsByFilename(ctx, "a.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ExistsByFilename(ctx, "A.pdf")
	require.NoError(t, err)
	assert.False(t, ok, "filenames are case-sensitive keys")
}

func TestGetByFilenameReturnsNewest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	older := sampleRecord("dup.pdf", base)
	older.StrategicSummary = "old"
	newer := sampleRecord("dup.pdf", base.Add(time.Hour))
	newer.StrategicSummary = "new"

	_, err := s.Insert(ctx, newer)
	require.NoError(t, err)
	_, err = s.Insert(ctx, older)
	require.NoError(t, err)

	got, err := s.GetByFilename(ctx, "dup.pdf")
	require.NoError(t, err)
	assert.Equal(t, "new", got.StrategicSummary)
}

func TestListAllNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"b.pdf", "c.pdf", "a.pdf"} {
		_, err := s.Insert(ctx, sampleRecord(name, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	// Same timestamp as a.pdf: id breaks the tie.
	_, err := s.Insert(ctx, sampleRecord("d.pdf", base.Add(2*time.Minute)))
	require.NoError(t, err)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	names := make([]string, len(all))
	for i, r := range all {
		names[i] = r.Filename
	}
	assert.Equal(t, []string{"d.pdf", "a.pdf", "c.pdf", "b.pdf"}, names)
}

func TestListAllEmpty(t *testing.T) {
	s := openTestStore(t)
	all, err := s.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeleteByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, sampleRecord("a.pdf", time.Now()))
	require.NoError(t, err)

	require.NoError(t, s.DeleteByID(ctx, id))
	_, err = s.GetByID(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteByID(ctx, id), ErrNotFound)
}

func TestConcurrentInserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Insert(ctx, sampleRecord("same.pdf", time.Now()))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	_, err = s.Insert(ctx, sampleRecord("a.pdf", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.ExistsByFilename(ctx, "a.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	require.Error(t, err)
}

func TestClaimLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	claims := s.Claims()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	claims.now = func() time.Time { return now }

	ok, err := claims.Acquire(ctx, "deck.pdf", "w1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = claims.Acquire(ctx, "deck.pdf", "w2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held claim blocks other owners")

	ok, err = claims.Acquire(ctx, "deck.pdf", "w1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "claims are not re-entrant")

	// A release by a non-owner is ignored.
	require.NoError(t, claims.Release(ctx, "deck.pdf", "w2", "done"))
	cl, err := claims.Get(ctx, "deck.pdf")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, cl.Status)
	assert.Equal(t, "w1", cl.Owner)

	require.NoError(t, claims.Release(ctx, "deck.pdf", "w1", "done"))
	cl, err = claims.Get(ctx, "deck.pdf")
	require.NoError(t, err)
	assert.Equal(t, "done", cl.Status)

	ok, err = claims.Acquire(ctx, "deck.pdf", "w2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released claim is free")
}

func TestClaimExpiryReclaims(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	claims := s.Claims()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	claims.now = func() time.Time { return now }

	ok, err := claims.Acquire(ctx, "deck.pdf", "crashed", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(29 * time.Minute)
	ok, err = claims.Acquire(ctx, "deck.pdf", "w2", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = claims.Acquire(ctx, "deck.pdf", "w2", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim can be taken over")

	cl, err := claims.Get(ctx, "deck.pdf")
	require.NoError(t, err)
	assert.Equal(t, "w2", cl.Owner)
	assert.Equal(t, now.Add(30*time.Minute), cl.ExpiresAt)
}

func TestClaimGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Claims().Get(context.Background(), "nope.pdf")
	require.ErrorIs(t, err, ErrNotFound)
}
