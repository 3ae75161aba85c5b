package rabbitmq

import (
	"context"
	"encoding/json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

type Publisher interface {
	// Publish sends v as a persistent JSON message.
	Publish(ctx context.Context, routingKey string, v interface{}) error
	Close() error
}

type publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

// NewPublisher opens a channel on conn and declares exchange as a durable
// exchange of the given kind.
func NewPublisher(ctx context.Context, conn *amqp.Connection, exchange, kind string) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", exchange).Msg("failed to declare exchange")
		_ = ch.Close()
		return nil, err
	}
	return &publisher{ch: ch, exchange: exchange}, nil
}

func (p *publisher) Publish(ctx context.Context, routingKey string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
