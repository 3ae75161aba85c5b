package repository

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"time"
)

// StreamKeyCache maps stream keys to stream ids so the monitor can resolve
// reported streams without a database round trip.
type StreamKeyCache interface {
	Get(ctx context.Context, streamKey string) (uuid.UUID, bool)
	Set(ctx context.Context, streamKey string, streamId uuid.UUID) error
	Delete(ctx context.Context, streamKey string) error
}

const streamKeyTTL = 6 * time.Hour

type redisStreamKeyCache struct {
	client *redis.Client
}

func NewRedisStreamKeyCache(client *redis.Client) StreamKeyCache {
	return &redisStreamKeyCache{client: client}
}

func streamKeyCacheKey(streamKey string) string {
	return fmt.Sprintf("restream:stream_key:%s", streamKey)
}

func (c *redisStreamKeyCache) Get(ctx context.Context, streamKey string) (uuid.UUID, bool) {
	val, err := c.client.Get(ctx, streamKeyCacheKey(streamKey)).Result()
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *redisStreamKeyCache) Set(ctx context.Context, streamKey string, streamId uuid.UUID) error {
	if err := c.client.Set(ctx, streamKeyCacheKey(streamKey), streamId.String(), streamKeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache stream key: %w", err)
	}
	return nil
}

func (c *redisStreamKeyCache) Delete(ctx context.Context, streamKey string) error {
	err := c.client.Del(ctx, streamKeyCacheKey(streamKey)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to evict stream key: %w", err)
	}
	return nil
}

type noopStreamKeyCache struct{}

// NewNoopStreamKeyCache is used when no Redis address is configured.
func NewNoopStreamKeyCache() StreamKeyCache {
	return noopStreamKeyCache{}
}

func (noopStreamKeyCache) Get(context.Context, string) (uuid.UUID, bool) { return uuid.Nil, false }
func (noopStreamKeyCache) Set(context.Context, string, uuid.UUID) error  { return nil }
func (noopStreamKeyCache) Delete(context.Context, string) error          { return nil }
