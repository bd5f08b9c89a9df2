package primary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stream-orchestrator/constant"
	"stream-orchestrator/pkg/provider"
)

func TestParseLiveInputWebhook(t *testing.T) {
	body := []byte(`{"name":"Live Webhook Test","text":"Notification type: Stream Live Input",
		"data":{"notification_name":"Stream Live Input","input_id":"in-1",
		"event_type":"live_input.disconnected","updated_at":"2024-05-01T12:30:00.5Z"},"ts":1714566600}`)

	ev, err := ParseWebhook(body)
	require.NoError(t, err)
	disconnected, ok := ev.(LiveInputDisconnected)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "in-1", disconnected.LiveInputID)
	assert.True(t, disconnected.At.Equal(time.Date(2024, 5, 1, 12, 30, 0, 5e8, time.UTC)))
}

func TestParseErroredWebhookFallsBackToTS(t *testing.T) {
	body := []byte(`{"data":{"input_id":"in-1","event_type":"live_input.errored",
		"live_input_errored_error_code":"ERR_GOP_OUT_OF_RANGE"},"ts":1714566600}`)

	ev, err := ParseWebhook(body)
	require.NoError(t, err)
	errored, ok := ev.(LiveInputErrored)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "ERR_GOP_OUT_OF_RANGE", errored.Code)
	assert.Equal(t, int64(1714566600), errored.At.Unix())
}

func TestParseAssetWebhook(t *testing.T) {
	body := []byte(`{"uid":"a1","liveInput":"in-1","readyToStream":true,"duration":42,
		"status":{"state":"ready"},"modified":"2024-05-01T13:00:00Z"}`)

	ev, err := ParseWebhook(body)
	require.NoError(t, err)
	updated, ok := ev.(AssetUpdated)
	require.True(t, ok, "got %T", ev)
	assert.False(t, updated.Partial)
	assert.Equal(t, "a1", updated.ObjectID())
	assert.Equal(t, "in-1", updated.Asset.LiveInputID)
	assert.Equal(t, constant.RecordingStatusReady, updated.Asset.Status)
}

func TestParseWebhookRejectsGarbage(t *testing.T) {
	for _, body := range []string{`not json`, `{}`, `{"data":{"event_type":"live_input.connected"}}`} {
		_, err := ParseWebhook([]byte(body))
		assert.ErrorIs(t, err, provider.ErrMalformed, body)
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(EventConnected, "in-1", nil)
	require.NoError(t, err)
	assert.Equal(t, LiveInputConnected{LiveInputID: "in-1"}, ev)
	assert.True(t, ev.OccurredAt().IsZero())

	ev, err = DecodeEvent(EventAssetUpdated, "a1", nil)
	require.NoError(t, err)
	updated := ev.(AssetUpdated)
	assert.True(t, updated.Partial)
	assert.Equal(t, "a1", updated.Asset.ID)
	assert.True(t, updated.OccurredAt().IsZero())

	_, err = DecodeEvent("live_input.exploded", "in-1", nil)
	assert.ErrorIs(t, err, provider.ErrMalformed)
	_, err = DecodeEvent(EventAssetUpdated, "", nil)
	assert.ErrorIs(t, err, provider.ErrMalformed)
}

func TestDecodeEventKeepsProviderTimestamp(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 8, 0, time.UTC)
	payload := []byte(`{"data":{"input_id":"in-1","event_type":"live_input.disconnected","updated_at":"2024-05-01T12:00:08Z"}}`)

	ev, err := DecodeEvent(EventDisconnected, "in-1", payload)
	require.NoError(t, err)
	disconnected, ok := ev.(LiveInputDisconnected)
	require.True(t, ok)
	assert.Equal(t, "in-1", disconnected.LiveInputID)
	assert.True(t, disconnected.At.Equal(at))
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"data":{}}`)
	at := time.Unix(1714566600, 0)
	header := SignatureFor("secret", body, at)

	assert.NoError(t, VerifySignature("secret", header, body, at.Add(time.Minute)))
	assert.Error(t, VerifySignature("secret", header, []byte(`{}`), at))
	assert.Error(t, VerifySignature("secret", "", body, at))
}
