package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript increments KEYS[1] unless it already reached ARGV[1],
// setting a TTL of ARGV[2] milliseconds on first use.
var incrementScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return {0, current}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current}
`)

// RedisStore keeps counters in Redis so limits hold across instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// redisKey returns the key for a subject's counter in one window bucket.
func redisKey(subjectID string, window Window, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", window, subjectID, windowStart.Unix())
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, subjectID string, window Window, windowStart time.Time, rule Rule) (int, bool, error) {
	key := redisKey(subjectID, window, windowStart)
	ttl := (rule.Length * 2).Milliseconds()

	res, err := incrementScript.Run(ctx, s.client, []string{key}, rule.Limit, ttl).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("rate limit increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("rate limit increment %s: unexpected reply %v", key, res)
	}
	return int(res[1]), res[0] == 1, nil
}

// Peek implements Store.
func (s *RedisStore) Peek(ctx context.Context, subjectID string, window Window, windowStart time.Time) (int, error) {
	key := redisKey(subjectID, window, windowStart)
	count, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit peek %s: %w", key, err)
	}
	return count, nil
}

// Cleanup implements Store. Redis expires bucket keys on its own.
func (s *RedisStore) Cleanup(context.Context, time.Time) (int, error) {
	return 0, nil
}
