// Package kv provides the shared key/value store port used for credential
// caching, rate-limit counters, the model registry snapshot, and the response
// cache. Two implementations exist: a Redis client for shared deployments and
// an in-process store for single-node use. Vendor error surfaces never leak
// through this port; a missing key is (nil, nil).
package kv

import (
	"context"
	"time"
)

// Store is the narrow KV port consumed by the gateway core.
// Values are opaque bytes. A ttl <= 0 means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Incr atomically increments the integer value at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining lifetime of key. A negative duration means
	// the key has no expiry or does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error

	HGet(ctx context.Context, key, field string) ([]byte, error)
	HSet(ctx context.Context, key string, fields map[string][]byte) error
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	// HMGet returns one entry per requested field; missing fields are nil.
	HMGet(ctx context.Context, key string, fields ...string) ([][]byte, error)

	SMembers(ctx context.Context, key string) ([]string, error)
	SAdd(ctx context.Context, key string, members ...string) error

	// Pipeline buffers the commands issued on the Pipe and applies them in
	// one atomic batch when fn returns nil.
	Pipeline(ctx context.Context, fn func(Pipe) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Pipe is the write-only command buffer passed to Pipeline callbacks.
type Pipe interface {
	Delete(keys ...string)
	Set(key string, val []byte, ttl time.Duration)
	HSet(key string, fields map[string][]byte)
	SAdd(key string, members ...string)
}

// MemoryURL is the store URL selecting the in-process implementation.
const MemoryURL = "memory://"

// Open returns a Store for the given URL. "memory://" selects the in-process
// backing; anything else is parsed as a Redis URL.
func Open(ctx context.Context, url string) (Store, error) {
	if url == "" || url == MemoryURL {
		return NewMemory(), nil
	}
	return OpenRedis(ctx, url)
}
