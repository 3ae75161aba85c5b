package config

import (
	"context"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"time"
)

func (r *RabbitMQ) URI() string {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     r.Host,
		Port:     r.Port,
		Username: r.User,
		Password: r.Pass,
		Vhost:    "/",
	}.String()
}

// NewRabbitMQConn dials with exponential backoff and closes the connection
// once ctx is done.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQ) (*amqp.Connection, error) {
	addr := cfg.URI()

	operation := func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(addr)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("host", cfg.Host).Msg("failed to connect to RabbitMQ, retrying")
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("giving up on RabbitMQ")
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("host", cfg.Host).Msg("connected to RabbitMQ")
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && err != amqp.ErrClosed {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close RabbitMQ connection")
			return
		}
		zerolog.Ctx(ctx).Info().Msg("RabbitMQ connection closed")
	}()

	return conn, nil
}
