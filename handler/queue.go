package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"stream-orchestrator/dto"
	"stream-orchestrator/service"
)

type ServiceDependencies struct {
	Reconciler service.Reconciler
}

// WebhookQueue defers webhook processing so the intake can answer the
// provider immediately.
type WebhookQueue interface {
	Enqueue(ctx context.Context, msg dto.WebhookMessage) error
}

type publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// BrokerQueue publishes webhooks to RabbitMQ.
type BrokerQueue struct {
	Publisher publisher
}

func (q BrokerQueue) Enqueue(ctx context.Context, msg dto.WebhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.Publisher.Publish(ctx, body)
}

// WebhookHandler consumes one queued webhook delivery.
func WebhookHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var webhook dto.WebhookMessage
	if err := json.Unmarshal(msg.Body, &webhook); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal webhook message")
		return backoff.Permanent(err)
	}
	return ProcessWebhook(ctx, webhook, deps)
}

// ProcessWebhook hands a webhook to the reconciler. Failures that can never
// succeed are marked permanent so they are not retried.
func ProcessWebhook(ctx context.Context, webhook dto.WebhookMessage, deps ServiceDependencies) error {
	err := deps.Reconciler.HandleWebhook(ctx, webhook)
	if err != nil && errors.Is(err, service.ErrNonRetryable) {
		return backoff.Permanent(err)
	}
	return err
}
