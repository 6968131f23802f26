package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is the per-responder mutual-exclusion flag preventing concurrent
// call assignment. TryAcquire is the sole authority; the mirrored
// in_call flag on the account row is read-only convenience.
type Lock interface {
	// TryAcquire marks the responder busy with the given call, only if
	// currently free. Returns false when another call already holds the
	// responder.
	TryAcquire(ctx context.Context, responderID, callID string) (bool, error)

	// Release frees the responder. Unconditional and idempotent: it must
	// be safe to call on every path that reaches a terminal call state.
	Release(ctx context.Context, responderID string) error

	// ReleaseOwned frees the responder only if the given call still
	// holds the lock. Used by reclaim paths that may race a newer call
	// which has already re-acquired the responder.
	ReleaseOwned(ctx context.Context, responderID, callID string) error

	// Holder returns the call id currently holding the responder, or ""
	// when free. Diagnostic only.
	Holder(ctx context.Context, responderID string) (string, error)
}

// acquireScript sets the busy flag only if currently free, in one
// atomic step, stamping the holding call id and a TTL. The TTL is a
// crash backstop: normal release happens on every terminal transition
// and in the stale-call sweep, well before it expires.
var acquireScript = redis.NewScript(`
-- KEYS[1] = responder busy key
-- ARGV[1] = call id
-- ARGV[2] = ttl_ms (int)
--
-- Returns:
--  1 if acquired
--  0 if another call holds the responder
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 1
end
-- Re-acquire by the same call is a no-op success (refresh TTL).
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// RedisLock is the production availability lock.
type RedisLock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLock returns a lock with the given crash-backstop TTL.
// The TTL must comfortably exceed the longest possible call budget;
// zero selects a 24h default.
func NewRedisLock(rdb *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLock{rdb: rdb, ttl: ttl}
}

func lockKey(responderID string) string {
	return "presence:busy:" + responderID
}

func (l *RedisLock) TryAcquire(ctx context.Context, responderID, callID string) (bool, error) {
	if responderID == "" || callID == "" {
		return false, fmt.Errorf("responder id and call id are required")
	}
	res, err := acquireScript.Run(ctx, l.rdb, []string{lockKey(responderID)}, callID, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (l *RedisLock) Release(ctx context.Context, responderID string) error {
	if responderID == "" {
		return fmt.Errorf("responder id is required")
	}
	return l.rdb.Del(ctx, lockKey(responderID)).Err()
}

// releaseOwnedScript deletes the busy flag only when the given call
// still holds it, in one atomic step.
var releaseOwnedScript = redis.NewScript(`
-- KEYS[1] = responder busy key
-- ARGV[1] = call id
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
end
return 1
`)

func (l *RedisLock) ReleaseOwned(ctx context.Context, responderID, callID string) error {
	if responderID == "" || callID == "" {
		return fmt.Errorf("responder id and call id are required")
	}
	return releaseOwnedScript.Run(ctx, l.rdb, []string{lockKey(responderID)}, callID).Err()
}

func (l *RedisLock) Holder(ctx context.Context, responderID string) (string, error) {
	v, err := l.rdb.Get(ctx, lockKey(responderID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return v, nil
}
