package dictionary

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultCacheKey is the default redis key for a shared dictionary.
const DefaultCacheKey = "sluice:dictionary"

// ErrNotCached is returned by Fetch when the key holds no snapshot.
var ErrNotCached = errors.New("dictionary not cached")

// RedisCache shares a dictionary snapshot between processes so only one of
// them has to load it.
type RedisCache struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCache opens a cache from a redis URL.
// Format: redis://[:password@]host:port[/db]
func NewRedisCache(url, key string, ttl time.Duration) (*RedisCache, error) {
	if url == "" {
		return nil, errors.New("dictionary cache requires a URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("dictionary cache: invalid URL: %w", err)
	}
	if key == "" {
		key = DefaultCacheKey
	}
	return &RedisCache{client: goredis.NewClient(opts), key: key, ttl: ttl}, nil
}

// Store writes the snapshot of d. A zero TTL keeps it forever.
func (c *RedisCache) Store(ctx context.Context, d *Dictionary) error {
	b, err := d.MarshalBinary()
	if err != nil {
		return fmt.Errorf("dictionary cache: %w", err)
	}
	if err := c.client.Set(ctx, c.key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("dictionary cache: set %s: %w", c.key, err)
	}
	return nil
}

// Fetch reads the cached snapshot.
func (c *RedisCache) Fetch(ctx context.Context) (*Dictionary, error) {
	b, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("dictionary cache: get %s: %w", c.key, err)
	}
	return Unmarshal(b)
}

// FetchOrLoad returns the cached dictionary, or calls load and stores its
// result when nothing is cached.
func (c *RedisCache) FetchOrLoad(ctx context.Context, load func() (*Dictionary, error)) (*Dictionary, error) {
	d, err := c.Fetch(ctx)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotCached) {
		return nil, err
	}
	d, err = load()
	if err != nil {
		return nil, err
	}
	if err := c.Store(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
