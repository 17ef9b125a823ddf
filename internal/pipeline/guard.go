package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"
)

// ErrInProgress means another worker holds the claim for the filename.
var ErrInProgress = errors.New("analysis already in progress")

// Claim release statuses.
const (
	ClaimDone   = "done"
	ClaimFailed = "failed"
)

// Claims is a per-key advisory lock with expiry, so a crashed holder
// does not block the key forever.
type Claims interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner, status string) error
}

// CacheLookup is the read side of the ledger used for the cache check.
type CacheLookup interface {
	ExistsByFilename(ctx context.Context, filename string) (bool, error)
	GetByFilename(ctx context.Context, filename string) (*deck.Record, error)
}

// Guard serializes work per filename and short-circuits filenames that
// already have a record.
type Guard struct {
	claims  Claims
	records CacheLookup
	owner   string
	ttl     time.Duration
	log     *slog.Logger
}

func NewGuard(claims Claims, records CacheLookup, owner string, ttl time.Duration, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{claims: claims, records: records, owner: owner, ttl: ttl, log: log}
}

// Owner is the worker identity written into claims.
func (g *Guard) Owner() string { return g.owner }

// Do claims filename, returns the newest existing record (cached=true)
// if there is one, and otherwise runs fn.
func (g *Guard) Do(ctx context.Context, filename string, fn func(ctx context.Context) (*deck.Record, error)) (*deck.Record, bool, error) {
	return g.do(ctx, filename, true, fn)
}

// Force claims filename and runs fn without the cache check, appending a
// new record even when one exists.
func (g *Guard) Force(ctx context.Context, filename string, fn func(ctx context.Context) (*deck.Record, error)) (*deck.Record, error) {
	rec, _, err := g.do(ctx, filename, false, fn)
	return rec, err
}

func (g *Guard) do(ctx context.Context, filename string, checkCache bool, fn func(ctx context.Context) (*deck.Record, error)) (*deck.Record, bool, error) {
	ok, err := g.claims.Acquire(ctx, filename, g.owner, g.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("claim %s: %w", filename, err)
	}
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrInProgress, filename)
	}

	status := ClaimFailed
	defer func() {
		// Release even when ctx was cancelled mid-run.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := g.claims.Release(relCtx, filename, g.owner, status); err != nil {
			g.log.Warn("claim release failed", "filename", filename, "error", err)
		}
	}()

	if checkCache {
		exists, err := g.records.ExistsByFilename(ctx, filename)
		if err != nil {
			return nil, false, fmt.Errorf("cache check %s: %w", filename, err)
		}
		if exists {
			rec, err := g.records.GetByFilename(ctx, filename)
			if err != nil {
				return nil, false, fmt.Errorf("load cached %s: %w", filename, err)
			}
			status = ClaimDone
			g.log.Info("cache hit", "filename", filename, "record_id", rec.ID)
			return rec, true, nil
		}
	}

	rec, err := fn(ctx)
	if rec != nil {
		// Persisted, even if a later delivery step failed.
		status = ClaimDone
	}
	return rec, false, err
}
