package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"stream-orchestrator/config"
)

// Topology names the exchange, queue and dead-letter pair a consumer owns.
type Topology struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DeadLetterExc string
	DeadLetterQ   string
}

// WebhookTopology carries provider webhooks from the HTTP intake to the
// reconciler workers.
func WebhookTopology(cfg *config.RabbitMQ) Topology {
	exchange := cfg.ExchangeName
	if exchange == "" {
		exchange = "stream_webhooks_exchange"
	}
	return Topology{
		Exchange:      exchange,
		Queue:         "stream_webhooks_queue",
		RoutingKey:    "stream.webhook",
		DeadLetterExc: exchange + "_dlx",
		DeadLetterQ:   "stream_webhooks_queue_dlq",
	}
}

func (t Topology) deadLetterKey() string {
	return "dlq." + t.RoutingKey
}

// Declare creates the exchanges and queues of the topology.
func (t Topology) Declare(ctx context.Context, ch *amqp.Channel, kind string) error {
	if err := ch.ExchangeDeclare(t.Exchange, kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", t.Exchange).Msg("failed to declare exchange")
		return err
	}
	if err := ch.ExchangeDeclare(t.DeadLetterExc, kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", t.DeadLetterExc).Msg("failed to declare dlx")
		return err
	}
	dlq, err := ch.QueueDeclare(t.DeadLetterQ, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.DeadLetterQ).Msg("failed to declare dlq")
		return err
	}
	if err := ch.QueueBind(dlq.Name, t.deadLetterKey(), t.DeadLetterExc, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.DeadLetterQ).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExc,
		"x-dead-letter-routing-key": t.deadLetterKey(),
	}
	q, err := ch.QueueDeclare(t.Queue, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.Queue).Msg("failed to declare queue")
		return err
	}
	if err := ch.QueueBind(q.Name, t.RoutingKey, t.Exchange, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.Queue).Msg("failed to bind queue")
		return err
	}
	return nil
}

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

// Handler processes one delivery. Returning backoff.Permanent(err) skips the
// remaining retries and dead-letters the message right away.
type Handler[T any] func(ctx context.Context, msg amqp.Delivery, dependencies T) error

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	topology   Topology
	handler    Handler[T]
	numWorkers int
	maxTries   uint
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.topology.Declare(ctx, ch, c.cfg.Kind); err != nil {
		return err
	}

	err = ch.Qos(c.numWorkers, 0, false)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.topology.Queue).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.topology.Queue).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", c.topology.Queue).
		Str("exchange", c.topology.Exchange).
		Str("routing_key", c.topology.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.process(ctx, workerId, msg, dependencies)
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

func (c consumer[T]) process(ctx context.Context, workerId int, msg amqp.Delivery, dependencies T) {
	operation := func() (struct{}, error) {
		return struct{}{}, c.safeHandle(ctx, msg, dependencies)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(c.maxTries))
	if err != nil && ctx.Err() != nil {
		if nackErr := msg.Nack(false, true); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to requeue message on shutdown")
		}
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message, dead-lettering")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

// safeHandle turns a handler panic into a permanent failure.
func (c consumer[T]) safeHandle(ctx context.Context, msg amqp.Delivery, dependencies T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("handler panicked")
			err = backoff.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, msg, dependencies)
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	topology Topology,
	numWorkers int,
	handler Handler[T],
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		topology:   topology,
		handler:    handler,
		numWorkers: numWorkers,
		maxTries:   5,
	}
}
