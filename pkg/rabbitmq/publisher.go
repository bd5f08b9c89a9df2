package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"stream-orchestrator/config"
)

// Publisher sends persistent JSON messages to one topology.
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	topology Topology
}

// NewPublisher opens a channel and declares the topology so messages
// published before the first consumer starts are not lost.
func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ, topology Topology) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := topology.Declare(ctx, ch, cfg.Kind); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch, topology: topology}, nil
}

func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.PublishWithContext(ctx, p.topology.Exchange, p.topology.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", p.topology.Exchange).Msg("failed to publish message")
	}
	return err
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
