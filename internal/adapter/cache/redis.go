package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redisv9.Client, error) {
	client := redisv9.NewClient(&redisv9.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}

	return client, nil
}

// RedisCache shares vectors between processes. Failures degrade to misses.
type RedisCache struct {
	client redisv9.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache wraps a connected client. Keys are stored under prefix.
func NewRedisCache(client redisv9.Cmdable, prefix string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "redis_cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("redis get embedding failed", "err", err)
		return nil, false
	}

	vector, err := decodeVector(raw)
	if err != nil {
		c.logger.Warn("discarding malformed cached embedding", "err", err)
		return nil, false
	}
	return vector, true
}

func (c *RedisCache) Put(ctx context.Context, key string, vector []float32) {
	if err := c.client.Set(ctx, c.key(key), encodeVector(vector), c.ttl).Err(); err != nil {
		c.logger.Warn("redis set embedding failed", "err", err)
	}
}

func (c *RedisCache) key(key string) string {
	return c.prefix + "emb:" + key
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 4", len(raw))
	}
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v, nil
}
