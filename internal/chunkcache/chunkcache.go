// Package chunkcache is an optional, off-by-default Redis cache of chunk
// bytes (GetChunk/PutChunk; the Store does not consult it), plus an
// advisory cross-process writer lock keyed by store ID (SPEC_FULL.md §3).
// The lock exists only to *prevent* the concurrent-writer scenario the
// engine's Non-goals exclude, never to implement multi-writer semantics;
// it is ported from the teacher's cache/redis/lock.go SETNX + Lua-script
// release pattern.
package chunkcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dig-network/digstore/internal/dshash"
)

// ErrCacheMiss is returned by Get when key is absent.
var ErrCacheMiss = errors.New("chunkcache: cache miss")

// ErrLockNotAcquired is returned by Lock when another writer already
// holds the store's advisory lock.
var ErrLockNotAcquired = errors.New("chunkcache: lock not acquired")

// ErrLockNotOwned is returned by Unlock/Extend when token does not match
// the lock's current holder.
var ErrLockNotOwned = errors.New("chunkcache: lock not owned")

const (
	prefixChunk = "digstore:chunk:"
	prefixLock  = "digstore:writer-lock:"

	defaultChunkTTL = 30 * time.Minute
	defaultLockTTL  = 30 * time.Second
)

// Client wraps a go-redis client with the chunk-cache and writer-lock
// surfaces the engine needs, mirroring the teacher's cache/redis.Client.
type Client struct {
	rdb    *redis.Client
	logger zerolog.Logger
	ttl    time.Duration
}

// New connects to addr and verifies the connection with a PING, exactly
// as the teacher's redis.NewClient does.
func New(ctx context.Context, addr string, logger zerolog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("chunkcache: ping redis: %w", err)
	}
	logger.Info().Str("addr", addr).Msg("connected to chunk cache")
	return &Client{rdb: rdb, logger: logger, ttl: defaultChunkTTL}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func chunkKey(hash dshash.ChunkHash) string {
	return prefixChunk + hash.Hex()
}

// GetChunk retrieves a cached chunk's bytes.
func (c *Client) GetChunk(ctx context.Context, hash dshash.ChunkHash) ([]byte, error) {
	val, err := c.rdb.Get(ctx, chunkKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("chunkcache: get %s: %w", hash.Hex(), err)
	}
	return val, nil
}

// PutChunk stores a chunk's bytes under the default TTL.
func (c *Client) PutChunk(ctx context.Context, hash dshash.ChunkHash, data []byte) error {
	if err := c.rdb.Set(ctx, chunkKey(hash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("chunkcache: put %s: %w", hash.Hex(), err)
	}
	return nil
}

// WriterLock is an advisory, cross-process lock keyed by store ID,
// acquired via SETNX and released only by the token that acquired it,
// using a Lua script so the check-and-delete is atomic — ported
// directly from the teacher's DistributedLock.
type WriterLock struct {
	client *Client
}

// NewWriterLock returns a WriterLock bound to client.
func NewWriterLock(client *Client) *WriterLock {
	return &WriterLock{client: client}
}

func lockKey(storeId dshash.StoreId) string {
	return prefixLock + storeId.Hex()
}

// Lock attempts to acquire storeId's writer lock under the caller-supplied
// token, which must later be presented to Unlock/Extend. ttl <= 0 uses the
// default.
func (l *WriterLock) Lock(ctx context.Context, storeId dshash.StoreId, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	ok, err := l.client.rdb.SetNX(ctx, lockKey(storeId), token, ttl).Result()
	if err != nil {
		return fmt.Errorf("chunkcache: acquire lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}
	l.client.logger.Debug().Str("store_id", storeId.Hex()).Str("token", token).Dur("ttl", ttl).Msg("writer lock acquired")
	return nil
}

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Unlock releases storeId's writer lock if token matches its holder.
func (l *WriterLock) Unlock(ctx context.Context, storeId dshash.StoreId, token string) error {
	result, err := l.client.rdb.Eval(ctx, releaseScript, []string{lockKey(storeId)}, token).Int64()
	if err != nil {
		return fmt.Errorf("chunkcache: release lock: %w", err)
	}
	if result == 0 {
		return ErrLockNotOwned
	}
	l.client.logger.Debug().Str("store_id", storeId.Hex()).Msg("writer lock released")
	return nil
}

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// Extend renews storeId's writer lock TTL if token matches its holder.
func (l *WriterLock) Extend(ctx context.Context, storeId dshash.StoreId, token string, ttl time.Duration) error {
	result, err := l.client.rdb.Eval(ctx, extendScript, []string{lockKey(storeId)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("chunkcache: extend lock: %w", err)
	}
	if result == 0 {
		return ErrLockNotOwned
	}
	return nil
}

// IsLocked reports whether storeId currently has a held writer lock.
func (l *WriterLock) IsLocked(ctx context.Context, storeId dshash.StoreId) (bool, error) {
	n, err := l.client.rdb.Exists(ctx, lockKey(storeId)).Result()
	if err != nil {
		return false, fmt.Errorf("chunkcache: check lock: %w", err)
	}
	return n > 0, nil
}
