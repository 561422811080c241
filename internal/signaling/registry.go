package signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

func identityKey(id string) string { return "retroboard:id:" + id }
func peerChannel(id string) string { return "retroboard:peer:" + id }

// Registry records which relay connection owns each peer identity. Entries
// expire after ttl unless refreshed by their owner.
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRegistry(rdb *redis.Client, ttl time.Duration) *Registry {
	return &Registry{rdb: rdb, ttl: ttl}
}

// Claim takes id for owner. It returns false when id is held by someone else.
func (r *Registry) Claim(ctx context.Context, id, owner string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, identityKey(id), owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return ok, nil
}

// Refresh extends the claim. It returns false when owner no longer holds id.
func (r *Registry) Refresh(ctx context.Context, id, owner string) (bool, error) {
	n, err := refreshScript.Run(ctx, r.rdb, []string{identityKey(id)}, owner, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", id, err)
	}
	return n == 1, nil
}

// Release drops the claim if owner still holds it.
func (r *Registry) Release(ctx context.Context, id, owner string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{identityKey(id)}, owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, identityKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", id, err)
	}
	return n > 0, nil
}
