package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ledger-service/pkg/cache"

	"github.com/redis/rueidis"
)

// scanBatch is the COUNT hint passed to SCAN during prefix deletes.
const scanBatch = 200

type RedisCache struct {
	client rueidis.Client
	name   string
	config RedisCacheConfig
}

type RedisCacheConfig struct {
	Name string
	// Addr is the Redis server address.
	// Examples: "localhost:6379", "redis.example.com:6379"
	Addr     string
	Username string
	Password string
	// DB is the Redis database number (0-15).
	DB int
	// KeyPrefix namespaces every key written by this layer.
	KeyPrefix    string
	DefaultTTL   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Name:         "redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "ledger:",
		DefaultTTL:   5 * time.Second,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func NewRedisCache(config RedisCacheConfig) (*RedisCache, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.Addr == "" {
		return nil, fmt.Errorf("redis: no address configured")
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Second
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      []string{config.Addr},
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	r := &RedisCache{
		client: client,
		name:   config.Name,
		config: config,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := r.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return r, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	resp := r.client.Do(ctx, r.client.B().Get().Key(r.config.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("redis get: failed to read response: %w", err)
	}

	return data, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}

	cmd := r.client.B().Set().Key(r.config.KeyPrefix + key).Value(rueidis.BinaryString(value)).Px(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	if err := r.client.Do(ctx, r.client.B().Del().Key(r.config.KeyPrefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}

	return nil
}

// DeletePrefix removes every key under prefix.
func (r *RedisCache) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return cache.ErrInvalidKey
	}
	return r.deleteMatching(ctx, escapeGlob(r.config.KeyPrefix+prefix)+"*")
}

// deleteMatching walks the keyspace with SCAN and deletes each matching batch.
func (r *RedisCache) deleteMatching(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		entry, err := r.client.Do(ctx, r.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatch).Build()).AsScanEntry()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}

		if len(entry.Elements) > 0 {
			if err := r.client.Do(ctx, r.client.B().Del().Key(entry.Elements...).Build()).Error(); err != nil {
				return fmt.Errorf("redis delete: %w", err)
			}
		}

		if cursor = entry.Cursor; cursor == 0 {
			return nil
		}
	}
}

func (r *RedisCache) Name() string {
	return r.name
}

func (r *RedisCache) Close() error {
	r.client.Close()
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// FlushPrefix deletes everything under the configured KeyPrefix.
func (r *RedisCache) FlushPrefix(ctx context.Context) error {
	return r.deleteMatching(ctx, escapeGlob(r.config.KeyPrefix)+"*")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the characters MATCH treats as wildcards.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
