package config

import (
	"context"
	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"time"
)

func NewRedisClient(ctx context.Context, cfg *Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	operation := func() (string, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		res, err := client.Ping(pingCtx).Result()
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("addr", cfg.Addr).Msg("Failed to ping Redis. Retrying...")
			return "", err
		}
		return res, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5)); err != nil {
		_ = client.Close()
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("addr", cfg.Addr).Msg("Successfully connected to Redis")
	go func() {
		<-ctx.Done()
		if err := client.Close(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to close Redis connection")
		}
	}()

	return client, nil
}
