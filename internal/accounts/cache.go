package accounts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores resolved statuses. A stored StatusUnknown means the player was
// looked up and not found, which is different from a miss.
type Cache interface {
	Get(ctx context.Context, player string) (Status, bool, error)
	Set(ctx context.Context, player string, status Status) error
}

type memoryCache struct {
	mu sync.RWMutex
	m  map[string]Status
}

// NewMemoryCache returns a process-local cache
func NewMemoryCache() Cache {
	return &memoryCache{m: make(map[string]Status)}
}

func (c *memoryCache) Get(_ context.Context, player string) (Status, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.m[player]
	return s, ok, nil
}

func (c *memoryCache) Set(_ context.Context, player string, status Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[player] = status
	return nil
}

// RedisConfig configures the shared status cache
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisCache shares statuses between runs and machines
type RedisCache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client, prefix string, ttl, timeout time.Duration) *RedisCache {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, timeout: timeout}
}

// NewCacheAuto returns a Redis cache when an address is configured, otherwise memory
func NewCacheAuto(cfg RedisConfig) Cache {
	if cfg.Addr == "" {
		return NewMemoryCache()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisCache(client, cfg.Prefix, cfg.TTL, cfg.Timeout)
}

func (r *RedisCache) key(player string) string {
	return r.prefix + player
}

func (r *RedisCache) Get(ctx context.Context, player string) (Status, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.key(player)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusUnknown, false, nil
	}
	if err != nil {
		return StatusUnknown, false, err
	}
	return Status(v), true, nil
}

func (r *RedisCache) Set(ctx context.Context, player string, status Status) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.client.Set(ctx, r.key(player), string(status), r.ttl).Err()
}

// Close releases the underlying client
func (r *RedisCache) Close() error {
	return r.client.Close()
}
