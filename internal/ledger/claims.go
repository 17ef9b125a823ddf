package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Claim statuses. A row in StatusClaimed blocks other owners until it
// expires; any other status is free to take.
const (
	StatusClaimed = "claimed"
)

// Claim is the stored state of a per-filename lease.
type Claim struct {
	Filename  string
	Owner     string
	Status    string
	ClaimedAt time.Time
	ExpiresAt time.Time
}

// ClaimStore implements leases on the claims table.
type ClaimStore struct {
	db  *sql.DB
	now func() time.Time
}

// Claims returns the lease store sharing this ledger's database.
func (s *Store) Claims() *ClaimStore {
	return &ClaimStore{db: s.db, now: time.Now}
}

// Acquire takes the claim for key if it is free, released, or expired.
// The check and the write are one statement, so two workers cannot both
// win.
func (c *ClaimStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := c.now()
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO claims (filename, owner, status, claimed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (filename) DO UPDATE SET
			owner = excluded.owner,
			status = excluded.status,
			claimed_at = excluded.claimed_at,
			expires_at = excluded.expires_at
		 WHERE claims.status <> $3 OR claims.expires_at <= excluded.claimed_at`,
		key, owner, StatusClaimed, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("acquire claim %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire claim %s: %w", key, err)
	}
	return n == 1, nil
}

// Release records the final status. Only the current owner can release.
func (c *ClaimStore) Release(ctx context.Context, key, owner, status string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE claims SET status = $1, expires_at = $2
		 WHERE filename = $3 AND owner = $4 AND status = $5`,
		status, c.now().UnixMilli(), key, owner, StatusClaimed,
	)
	if err != nil {
		return fmt.Errorf("release claim %s: %w", key, err)
	}
	return nil
}

// Get returns the stored claim for key.
func (c *ClaimStore) Get(ctx context.Context, key string) (*Claim, error) {
	var (
		cl                  Claim
		claimedMs, expireMs int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT filename, owner, status, claimed_at, expires_at FROM claims WHERE filename = $1`, key,
	).Scan(&cl.Filename, &cl.Owner, &cl.Status, &claimedMs, &expireMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get claim %s: %w", key, err)
	}
	cl.ClaimedAt = time.UnixMilli(claimedMs).UTC()
	cl.ExpiresAt = time.UnixMilli(expireMs).UTC()
	return &cl, nil
}
