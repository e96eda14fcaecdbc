package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache maps content ids to the ledger transactions that carry them.
type Cache interface {
	Get(ctx context.Context, contentID string) (string, bool, error)
	Set(ctx context.Context, contentID, txID string) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]string)}
}

func (m *MemoryCache) Get(_ context.Context, contentID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txID, ok := m.items[contentID]
	return txID, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, contentID, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[contentID] = txID
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// RedisCache is a Cache shared between processes through Redis.
// Entries never expire since the mapping is immutable.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client), nil
}

// NewRedisCacheWithClient wraps an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "wofi:txid:"}
}

func (r *RedisCache) key(contentID string) string {
	return r.prefix + contentID
}

func (r *RedisCache) Get(ctx context.Context, contentID string) (string, bool, error) {
	txID, err := r.client.Get(ctx, r.key(contentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached tx id: %w", err)
	}
	return txID, true, nil
}

func (r *RedisCache) Set(ctx context.Context, contentID, txID string) error {
	if err := r.client.Set(ctx, r.key(contentID), txID, 0).Err(); err != nil {
		return fmt.Errorf("set cached tx id: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
