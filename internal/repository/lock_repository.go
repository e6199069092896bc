package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LockRepository hands out expiring Redis locks. Without a client every acquire succeeds,
// which is correct for a single replica.
type LockRepository struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewLockRepository builds a lock stored under key.
func NewLockRepository(client *redis.Client, key string, ttl time.Duration) *LockRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LockRepository{client: client, key: key, ttl: ttl}
}

// Acquire tries SET NX PX once. The returned token must be passed to Release.
func (r *LockRepository) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()
	if r.client == nil {
		return token, true, nil
	}
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", r.key, err)
	}
	return token, ok, nil
}

// Release drops the lock only if token still owns it.
func (r *LockRepository) Release(ctx context.Context, token string) error {
	if r.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", r.key, err)
	}
	return nil
}
