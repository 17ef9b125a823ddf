package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaims keeps leases in Redis for deployments where several hosts
// share one watched folder. Leases carry no terminal status; the ledger
// record is the durable outcome.
type RedisClaims struct {
	client *redis.Client
	prefix string
}

func NewRedisClaims(client *redis.Client, prefix string) *RedisClaims {
	return &RedisClaims{client: client, prefix: prefix}
}

func (r *RedisClaims) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire claim %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisClaims) Release(ctx context.Context, key, owner, _ string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("release claim %s: %w", key, err)
	}
	return nil
}
