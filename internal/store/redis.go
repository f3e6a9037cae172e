package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

// RedisConfig contains configuration options for Redis.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string

	// Password is the Redis password (empty for no auth)
	Password string

	// DB is the Redis database number (0-15)
	DB int

	// KeyPrefix is prepended to both entry names, typically ends with a colon
	KeyPrefix string
}

// RedisStore implements Store using Redis.
// Both entries share a native TTL equal to the retention window.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	codec     Codec
	retention time.Duration
	timeout   time.Duration
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client *redis.Client, keyPrefix string, codec Codec, retention time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    keyPrefix,
		codec:     codec,
		retention: retention,
		timeout:   3 * time.Second,
	}
}

// NewRedisStoreFromConfig connects to Redis and verifies the connection
func NewRedisStoreFromConfig(cfg RedisConfig, codec Codec, retention time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "tableside:kiosk:"
	}
	return NewRedisStore(client, prefix, codec, retention), nil
}

func (rs *RedisStore) Save(id string, data *types.Session) error {
	value, err := encodeEntry(rs.codec, id, data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rs.timeout)
	defer cancel()

	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rs.prefix+SessionIDKey, id, rs.retention)
		pipe.Set(ctx, rs.prefix+SessionDataKey, value, rs.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to save session: %w", err)
	}
	return nil
}

func (rs *RedisStore) Load() (string, *types.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), rs.timeout)
	defer cancel()

	vals, err := rs.client.MGet(ctx, rs.prefix+SessionIDKey, rs.prefix+SessionDataKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", nil, fmt.Errorf("redis: failed to load session: %w", err)
	}

	var id, value string
	if len(vals) == 2 {
		id, _ = vals[0].(string)
		value, _ = vals[1].(string)
	}
	return decodeEntries(rs.codec, id, value)
}

func (rs *RedisStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), rs.timeout)
	defer cancel()

	if err := rs.client.Del(ctx, rs.prefix+SessionIDKey, rs.prefix+SessionDataKey).Err(); err != nil {
		return fmt.Errorf("redis: failed to clear session: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
