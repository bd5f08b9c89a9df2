package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/pkg/provider/bridge"
	"stream-orchestrator/pkg/provider/primary"
)

const (
	HeaderWebhookToken = "X-Webhook-Token"
	maxWebhookBody     = 1 << 20
)

type WebhookSecrets struct {
	// Intake guards the normalized endpoint; empty disables the check.
	Intake  string
	Primary string
	Bridge  string
}

type WebhookObserver interface {
	ObserveWebhook(provider, outcome string)
}

// WebhookIntake accepts provider notifications, verifies and normalizes
// them and queues them for the reconciler. It answers 202 as soon as the
// message is queued.
type WebhookIntake struct {
	queue    WebhookQueue
	secrets  WebhookSecrets
	observer WebhookObserver
	now      func() time.Time
}

func NewWebhookIntake(queue WebhookQueue, secrets WebhookSecrets, observer WebhookObserver) *WebhookIntake {
	return &WebhookIntake{
		queue:    queue,
		secrets:  secrets,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *WebhookIntake) Register(r gin.IRouter) {
	r.POST("/webhooks", w.normalized)
	r.POST("/webhooks/primary", w.primaryWebhook)
	r.POST("/webhooks/bridge", w.bridgeWebhook)
}

type normalizedWebhook struct {
	Provider         constant.Provider `json:"provider"`
	ProviderObjectID string            `json:"providerObjectId" binding:"required"`
	EventType        string            `json:"eventType" binding:"required"`
	Payload          json.RawMessage   `json:"payload"`
}

func (w *WebhookIntake) normalized(c *gin.Context) {
	if w.secrets.Intake != "" {
		token := c.GetHeader(HeaderWebhookToken)
		if subtle.ConstantTimeCompare([]byte(token), []byte(w.secrets.Intake)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid webhook token"})
			return
		}
	}
	var body normalizedWebhook
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	switch body.Provider {
	case "":
		body.Provider = constant.ProviderPrimary
	case constant.ProviderPrimary, constant.ProviderBridge:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "unknown provider"})
		return
	}
	w.enqueue(c, dto.WebhookMessage{
		Provider:         body.Provider,
		ProviderObjectID: body.ProviderObjectID,
		EventType:        body.EventType,
		Payload:          body.Payload,
		ReceivedAt:       w.now(),
	})
}

func (w *WebhookIntake) primaryWebhook(c *gin.Context) {
	body, ok := w.readBody(c)
	if !ok {
		return
	}
	if err := primary.VerifySignature(w.secrets.Primary, c.GetHeader(primary.SignatureHeader), body, w.now()); err != nil {
		w.reject(c, constant.ProviderPrimary, http.StatusUnauthorized, err)
		return
	}
	event, err := primary.ParseWebhook(body)
	if err != nil {
		w.reject(c, constant.ProviderPrimary, http.StatusBadRequest, err)
		return
	}
	w.enqueue(c, dto.WebhookMessage{
		Provider:         constant.ProviderPrimary,
		ProviderObjectID: event.ObjectID(),
		EventType:        event.EventType(),
		Payload:          body,
		ReceivedAt:       w.now(),
	})
}

func (w *WebhookIntake) bridgeWebhook(c *gin.Context) {
	body, ok := w.readBody(c)
	if !ok {
		return
	}
	if err := bridge.VerifySignature(w.secrets.Bridge, c.GetHeader(bridge.SignatureHeader), body, w.now()); err != nil {
		w.reject(c, constant.ProviderBridge, http.StatusUnauthorized, err)
		return
	}
	event, err := bridge.ParseWebhook(body)
	if err != nil {
		w.reject(c, constant.ProviderBridge, http.StatusBadRequest, err)
		return
	}
	if _, ignored := event.(bridge.Ignored); ignored {
		c.Status(http.StatusNoContent)
		return
	}
	w.enqueue(c, dto.WebhookMessage{
		Provider:         constant.ProviderBridge,
		ProviderObjectID: event.ObjectID(),
		EventType:        event.EventType(),
		Payload:          body,
		ReceivedAt:       w.now(),
	})
}

func (w *WebhookIntake) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: "unreadable body"})
		return nil, false
	}
	return body, true
}

func (w *WebhookIntake) reject(c *gin.Context, provider constant.Provider, status int, err error) {
	zerolog.Ctx(c.Request.Context()).Warn().Err(err).Str("provider", string(provider)).Msg("webhook rejected")
	w.observe(provider, "rejected")
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func (w *WebhookIntake) enqueue(c *gin.Context, msg dto.WebhookMessage) {
	if err := w.queue.Enqueue(c.Request.Context(), msg); err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("provider", string(msg.Provider)).
			Str("event", msg.EventType).
			Msg("failed to queue webhook")
		w.observe(msg.Provider, "queue_failed")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "webhook queue unavailable"})
		return
	}
	w.observe(msg.Provider, "queued")
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (w *WebhookIntake) observe(provider constant.Provider, outcome string) {
	if w.observer != nil {
		w.observer.ObserveWebhook(string(provider), outcome)
	}
}
