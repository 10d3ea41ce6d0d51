package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the connection to a shared Redis cache.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// KeyPrefix namespaces dashboard entries; defaults to "missionctl:".
	KeyPrefix string
	// Expiry is the server-side TTL applied to stored entries. It should
	// exceed the caller's freshness TTL so the caller's policy is the one
	// that decides; defaults to 24h.
	Expiry time.Duration
}

// Redis is a Store backed by a shared Redis instance, for running more
// than one dashboard replica against the same upstream quota. Redis
// failures degrade to cache misses rather than erroring.
type Redis struct {
	client *redis.Client
	prefix string
	expiry time.Duration
	logger *slog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address must be specified")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "missionctl:"
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Redis{client: client, prefix: prefix, expiry: expiry, logger: logger}, nil
}

// Get fetches and decodes the entry stored under key. Any Redis or decode
// failure reads as a miss.
func (r *Redis) Get(key string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis get failed, treating as miss", "key", key, "error", err)
		}
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return Entry{}, false
	}
	return entry, true
}

// Put stores the entry under key with the configured server-side expiry.
func (r *Redis) Put(key string, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn("cache entry not serializable", "key", key, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+key, data, r.expiry).Err(); err != nil {
		r.logger.Warn("redis put failed", "key", key, "error", err)
	}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
