package rabbitmq

import (
	"context"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"restream/config"
	"sync"
	"time"
)

// Binding names the exchange, queue and routing key a consumer reads from.
// Messages that still fail after retries go to <Queue>_dlq.
type Binding struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

func (b Binding) dlx() string        { return b.Exchange + "_dlx" }
func (b Binding) dlq() string        { return b.Queue + "_dlq" }
func (b Binding) dlqRouting() string { return "dlq." + b.RoutingKey }

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	binding    Binding
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
	maxTries   uint
}

func (c consumer[T]) declare(ctx context.Context, ch *amqp.Channel) error {
	b := c.binding
	if err := ch.ExchangeDeclare(b.Exchange, c.cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", b.Exchange).Msg("failed to declare exchange")
		return err
	}
	if err := ch.ExchangeDeclare(b.dlx(), c.cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", b.dlx()).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(b.dlq(), true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", b.dlq()).Msg("failed to declare dlq")
		return err
	}
	if err := ch.QueueBind(dlq.Name, b.dlqRouting(), b.dlx(), false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", b.dlq()).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    b.dlx(),
		"x-dead-letter-routing-key": b.dlqRouting(),
	}
	q, err := ch.QueueDeclare(b.Queue, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", b.Queue).Msg("failed to declare queue")
		return err
	}
	if err := ch.QueueBind(q.Name, b.RoutingKey, b.Exchange, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", b.Queue).Msg("failed to bind queue")
		return err
	}
	return nil
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.declare(ctx, ch); err != nil {
		return err
	}

	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", c.binding.Queue).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.binding.Queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", c.binding.Queue).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", c.binding.Queue).
		Str("exchange", c.binding.Exchange).
		Str("routing_key", c.binding.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, workerId, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

// handle retries the handler with exponential backoff. Exhausted or
// permanent failures are dead-lettered.
func (c consumer[T]) handle(ctx context.Context, workerId int, msg amqp.Delivery, dependencies T) {
	operation := func() (struct{}, error) {
		return struct{}{}, c.handler(ctx, msg, dependencies)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Str("queue", c.binding.Queue).Msg("failed to handle message after all retries")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	binding Binding,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		binding:    binding,
		handler:    handler,
		numWorkers: numWorkers,
		maxTries:   5,
	}
}
