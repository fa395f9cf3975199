package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultScanCount = 100

// INCR is atomic on the server, so concurrent callers in any process are all
// counted. The expiry is set only when the window opens (or was lost), which
// keeps the window fixed instead of sliding with every hit.
var incrementScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	local ttl = redis.call('PTTL', KEYS[1])
	if count == 1 or ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {count, ttl}
`)

var decrementScript = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if current > 0 then
		return redis.call('DECR', KEYS[1])
	end
	return current
`)

// A set only ever gains lifetime: a member without expiry makes the set
// persistent and a longer ttl extends it.
var setAddScript = redis.NewScript(`
	local existed = redis.call('EXISTS', KEYS[1])
	redis.call('SADD', KEYS[1], unpack(ARGV, 2))
	local ttl = tonumber(ARGV[1])
	if ttl <= 0 then
		redis.call('PERSIST', KEYS[1])
	elseif existed == 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
	else
		local current = redis.call('PTTL', KEYS[1])
		if current >= 0 and current < ttl then
			redis.call('PEXPIRE', KEYS[1], ttl)
		end
	end
	return 1
`)

// RedisStore is the shared Store used by multi-instance deployments.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	scanCount int64
	now       func() time.Time
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		scanCount: defaultScanCount,
		now:       time.Now,
	}
}

func (r *RedisStore) key(key string) string {
	return r.keyPrefix + key
}

func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	result, err := incrementScript.Run(ctx, r.client, []string{r.key(key)}, windowMs).Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(result) != 2 {
		return Counter{}, fmt.Errorf("unexpected redis response length: %d", len(result))
	}

	count, err := getInt64FromResult(result[0])
	if err != nil {
		return Counter{}, fmt.Errorf("failed to parse count: %w", err)
	}
	ttlMs, err := getInt64FromResult(result[1])
	if err != nil {
		return Counter{}, fmt.Errorf("failed to parse ttl: %w", err)
	}

	return Counter{
		Count:   count,
		ResetAt: r.now().Add(time.Duration(ttlMs) * time.Millisecond),
	}, nil
}

func (r *RedisStore) Decrement(ctx context.Context, key string) (int64, error) {
	count, err := decrementScript.Run(ctx, r.client, []string{r.key(key)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis decrement %s: %w", key, err)
	}
	return count, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete %s: %w", key, err)
	}
	return deleted > 0, nil
}

func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	fullPattern := r.keyPrefix + pattern

	seen := make(map[string]struct{})
	keys := make([]string, 0)
	var cursor uint64
	for {
		batch, nextCursor, err := r.client.Scan(ctx, cursor, fullPattern, r.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, strings.TrimPrefix(k, r.keyPrefix))
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (r *RedisStore) SetAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, 0, len(members)+1)
	args = append(args, ttl.Milliseconds())
	for _, m := range members {
		args = append(args, m)
	}
	if err := setAddScript.Run(ctx, r.client, []string{r.key(key)}, args...).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	sort.Strings(members)
	return members, nil
}

func (r *RedisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.SRem(ctx, r.key(key), args...).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Kind() Kind {
	return KindRemote
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
