// Package cache adapts the teacher's RedisClient wrapper into generic typed
// adapters: a scalar JSON-typed cache and a typed hash cache, plus the
// distributed-lock helper every buy/sell executor acquires before mutating
// a position. Two concrete adapter instantiations per stored type replace
// the original Python's per-model cache subclasses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get/HGet when the key is absent — callers
// treat this as "no cached value", not as an infrastructure failure.
var ErrNotFound = errors.New("cache: key not found")

// NewClient dials Redis and verifies connectivity with a short-lived ping.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return client, nil
}

// TypedCache is a generic JSON-serialized scalar cache over a single key
// namespace, e.g. TypedCache[domain.HotWatchlist] for "watchlist:active".
type TypedCache[T any] struct {
	client *redis.Client
}

// NewTypedCache constructs a typed cache bound to the given client.
func NewTypedCache[T any](client *redis.Client) *TypedCache[T] {
	return &TypedCache[T]{client: client}
}

// Get parses the stored JSON value, returning ErrNotFound if the key is absent.
func (c *TypedCache[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return zero, fmt.Errorf("cache: unmarshal %s: %w", key, err)
	}
	return out, nil
}

// Set stores the value without an expiration.
func (c *TypedCache[T]) Set(ctx context.Context, key string, value T) error {
	return c.SetTTL(ctx, key, value, 0)
}

// SetTTL stores the value with the given expiration; ttl<=0 means no expiry.
func (c *TypedCache[T]) SetTTL(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes the key.
func (c *TypedCache[T]) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Exists reports whether the key is present.
func (c *TypedCache[T]) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

// TypedHashCache is a generic JSON-serialized hash-field cache, used for
// per-sector or per-code maps stored under a single hash key (e.g.
// sector_budget:active).
type TypedHashCache[T any] struct {
	client *redis.Client
}

// NewTypedHashCache constructs a typed hash cache bound to the given client.
func NewTypedHashCache[T any](client *redis.Client) *TypedHashCache[T] {
	return &TypedHashCache[T]{client: client}
}

// HGet reads a single field, returning ErrNotFound if absent.
func (h *TypedHashCache[T]) HGet(ctx context.Context, key, field string) (T, error) {
	var zero T
	val, err := h.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return zero, fmt.Errorf("cache: unmarshal %s.%s: %w", key, field, err)
	}
	return out, nil
}

// HSet writes a single field.
func (h *TypedHashCache[T]) HSet(ctx context.Context, key, field string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s.%s: %w", key, field, err)
	}
	return h.client.HSet(ctx, key, field, data).Err()
}

// HGetAll reads every field in the hash.
func (h *TypedHashCache[T]) HGetAll(ctx context.Context, key string) (map[string]T, error) {
	raw, err := h.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	for field, val := range raw {
		var v T
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			continue
		}
		out[field] = v
	}
	return out, nil
}

// Lock acquires a distributed lock (SET NX EX) with a random value so only
// the holder can release it. Returns ("", false, nil) when contended.
func Lock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (token string, acquired bool, err error) {
	token = uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Unlock releases a lock only if the caller still holds it (token matches),
// avoiding a premature release of a lock that has since expired and been
// re-acquired by another worker.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Unlock releases the lock previously acquired with Lock, if this caller's
// token still matches.
func Unlock(ctx context.Context, client *redis.Client, key, token string) error {
	return unlockScript.Run(ctx, client, []string{key}, token).Err()
}
