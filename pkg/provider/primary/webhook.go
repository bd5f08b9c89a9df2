package primary

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"stream-orchestrator/pkg/provider"
)

// Normalized event types carried on the webhook queue.
const (
	EventConnected    = "live_input.connected"
	EventDisconnected = "live_input.disconnected"
	EventErrored      = "live_input.errored"
	EventAssetUpdated = "asset.updated"
)

// SignatureHeader carries "time=<unix>,sig1=<hex hmac>".
const SignatureHeader = "Webhook-Signature"

// WebhookEvent is the closed set of primary provider notifications.
type WebhookEvent interface {
	ObjectID() string
	EventType() string
	OccurredAt() time.Time
	isWebhookEvent()
}

type LiveInputConnected struct {
	LiveInputID string
	At          time.Time
}

type LiveInputDisconnected struct {
	LiveInputID string
	At          time.Time
}

type LiveInputErrored struct {
	LiveInputID string
	Code        string
	At          time.Time
}

// AssetUpdated reports a recorded asset. Partial is set when the
// notification identified the asset without describing it, so the asset has
// to be fetched before use.
type AssetUpdated struct {
	Asset   Asset
	Partial bool
}

func (e LiveInputConnected) ObjectID() string      { return e.LiveInputID }
func (e LiveInputConnected) EventType() string     { return EventConnected }
func (e LiveInputConnected) OccurredAt() time.Time { return e.At }
func (LiveInputConnected) isWebhookEvent()         {}

func (e LiveInputDisconnected) ObjectID() string      { return e.LiveInputID }
func (e LiveInputDisconnected) EventType() string     { return EventDisconnected }
func (e LiveInputDisconnected) OccurredAt() time.Time { return e.At }
func (LiveInputDisconnected) isWebhookEvent()         {}

func (e LiveInputErrored) ObjectID() string      { return e.LiveInputID }
func (e LiveInputErrored) EventType() string     { return EventErrored }
func (e LiveInputErrored) OccurredAt() time.Time { return e.At }
func (LiveInputErrored) isWebhookEvent()         {}

func (e AssetUpdated) ObjectID() string      { return e.Asset.ID }
func (e AssetUpdated) EventType() string     { return EventAssetUpdated }
func (e AssetUpdated) OccurredAt() time.Time { return e.Asset.ModifiedAt }
func (AssetUpdated) isWebhookEvent()         {}

type notification struct {
	Data *struct {
		InputID   string `json:"input_id"`
		EventType string `json:"event_type"`
		UpdatedAt string `json:"updated_at"`
		ErrorCode string `json:"live_input_errored_error_code"`
	} `json:"data"`
	TS int64 `json:"ts"`
}

// ParseWebhook decodes a raw provider notification. Live-input
// notifications arrive wrapped in a data envelope; asset notifications are
// the asset object itself.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformed, err)
	}
	if n.Data != nil && n.Data.EventType != "" {
		at := parseTime(n.Data.UpdatedAt)
		if at.IsZero() && n.TS > 0 {
			at = time.Unix(n.TS, 0).UTC()
		}
		return liveInputEvent(n.Data.EventType, n.Data.InputID, n.Data.ErrorCode, at)
	}

	var v video
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformed, err)
	}
	if v.UID == "" {
		return nil, fmt.Errorf("%w: notification without event type or asset uid", provider.ErrMalformed)
	}
	c := &Client{}
	return AssetUpdated{Asset: c.toAsset(v)}, nil
}

// DecodeEvent rebuilds an event from its normalized queue form. Without a
// provider timestamp in the payload the event carries a zero time.
func DecodeEvent(eventType, objectID string, payload json.RawMessage) (WebhookEvent, error) {
	switch eventType {
	case EventConnected, EventDisconnected, EventErrored:
		if len(payload) > 0 {
			if ev, err := ParseWebhook(payload); err == nil && ev.EventType() == eventType {
				return ev, nil
			}
		}
		return liveInputEvent(eventType, objectID, "", time.Time{})
	case EventAssetUpdated:
		if len(payload) > 0 {
			if ev, err := ParseWebhook(payload); err == nil {
				if updated, ok := ev.(AssetUpdated); ok && updated.Asset.ID == objectID {
					return updated, nil
				}
			}
		}
		if objectID == "" {
			return nil, fmt.Errorf("%w: asset event without object id", provider.ErrMalformed)
		}
		return AssetUpdated{Asset: Asset{ID: objectID}, Partial: true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", provider.ErrMalformed, eventType)
	}
}

// VerifySignature validates the signature header against the raw body.
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	parts := provider.ParseSignatureHeader(header)
	return provider.VerifyHMAC(secret, parts["time"], parts["sig1"], body, now)
}

// SignatureFor builds a header value accepted by VerifySignature.
func SignatureFor(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "time=" + ts + ",sig1=" + provider.Sign(secret, ts, body)
}

func liveInputEvent(eventType, inputID, code string, at time.Time) (WebhookEvent, error) {
	if inputID == "" {
		return nil, fmt.Errorf("%w: %s without input id", provider.ErrMalformed, eventType)
	}
	switch eventType {
	case EventConnected:
		return LiveInputConnected{LiveInputID: inputID, At: at}, nil
	case EventDisconnected:
		return LiveInputDisconnected{LiveInputID: inputID, At: at}, nil
	case EventErrored:
		return LiveInputErrored{LiveInputID: inputID, Code: code, At: at}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", provider.ErrMalformed, eventType)
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
