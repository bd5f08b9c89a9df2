package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"stream-orchestrator/pkg/provider"
)

const (
	EventActive       = "video.live_stream.active"
	EventIdle         = "video.live_stream.idle"
	EventDisconnected = "video.live_stream.disconnected"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>".
const SignatureHeader = "Mux-Signature"

type WebhookEvent interface {
	ObjectID() string
	EventType() string
	OccurredAt() time.Time
	isWebhookEvent()
}

type StreamActive struct {
	StreamID string
	At       time.Time
}

type StreamIdle struct {
	StreamID string
	At       time.Time
}

type StreamDisconnected struct {
	StreamID string
	At       time.Time
}

// Ignored covers notifications the orchestrator does not act on, such as
// encoder handshakes or asset lifecycle events.
type Ignored struct {
	StreamID string
	Type     string
	At       time.Time
}

func (e StreamActive) ObjectID() string      { return e.StreamID }
func (e StreamActive) EventType() string     { return EventActive }
func (e StreamActive) OccurredAt() time.Time { return e.At }
func (StreamActive) isWebhookEvent()         {}

func (e StreamIdle) ObjectID() string      { return e.StreamID }
func (e StreamIdle) EventType() string     { return EventIdle }
func (e StreamIdle) OccurredAt() time.Time { return e.At }
func (StreamIdle) isWebhookEvent()         {}

func (e StreamDisconnected) ObjectID() string      { return e.StreamID }
func (e StreamDisconnected) EventType() string     { return EventDisconnected }
func (e StreamDisconnected) OccurredAt() time.Time { return e.At }
func (StreamDisconnected) isWebhookEvent()         {}

func (e Ignored) ObjectID() string      { return e.StreamID }
func (e Ignored) EventType() string     { return e.Type }
func (e Ignored) OccurredAt() time.Time { return e.At }
func (Ignored) isWebhookEvent()         {}

type notification struct {
	Type   string `json:"type"`
	Object struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"object"`
	CreatedAt time.Time `json:"created_at"`
}

func ParseWebhook(body []byte) (WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformed, err)
	}
	if n.Type == "" {
		return nil, fmt.Errorf("%w: notification without type", provider.ErrMalformed)
	}
	return newEvent(n.Type, n.Object.ID, n.CreatedAt.UTC())
}

// DecodeEvent rebuilds an event from its normalized queue form. Without a
// provider timestamp in the payload the event carries a zero time.
func DecodeEvent(eventType, objectID string, payload json.RawMessage) (WebhookEvent, error) {
	if len(payload) > 0 {
		if ev, err := ParseWebhook(payload); err == nil && ev.EventType() == eventType && ev.ObjectID() == objectID {
			return ev, nil
		}
	}
	return newEvent(eventType, objectID, time.Time{})
}

func VerifySignature(secret, header string, body []byte, now time.Time) error {
	parts := provider.ParseSignatureHeader(header)
	return provider.VerifyHMAC(secret, parts["t"], parts["v1"], body, now)
}

func SignatureFor(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + provider.Sign(secret, ts, body)
}

func newEvent(eventType, streamID string, at time.Time) (WebhookEvent, error) {
	if streamID == "" {
		return nil, fmt.Errorf("%w: %s without object id", provider.ErrMalformed, eventType)
	}
	switch eventType {
	case EventActive:
		return StreamActive{StreamID: streamID, At: at}, nil
	case EventIdle:
		return StreamIdle{StreamID: streamID, At: at}, nil
	case EventDisconnected:
		return StreamDisconnected{StreamID: streamID, At: at}, nil
	default:
		return Ignored{StreamID: streamID, Type: eventType, At: at}, nil
	}
}
