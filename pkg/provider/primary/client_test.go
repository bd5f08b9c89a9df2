package primary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stream-orchestrator/constant"
	"stream-orchestrator/pkg/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:         srv.URL,
		AccountID:       "acct",
		APIToken:        "token",
		PlaybackBaseURL: "https://cdn.example.com/",
	}, provider.WithRetry(2, time.Millisecond))
}

func TestCreateIngest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/acct/stream/live_inputs", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var req liveInputRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Weekly sync", req.Meta["name"])
		assert.Equal(t, "automatic", req.Recording.Mode)
		assert.Equal(t, 60, req.Recording.TimeoutSeconds)

		_, _ = w.Write([]byte(`{"success":true,"result":{"uid":"in-1",
			"rtmps":{"url":"rtmps://live.example.com:443/live/","streamKey":"sk"},
			"webRTC":{"url":"https://live.example.com/in-1/webRTC/publish"}}}`))
	})

	ingest, err := c.CreateIngest(context.Background(), "Weekly sync")
	require.NoError(t, err)
	assert.Equal(t, Ingest{
		ID:           "in-1",
		IngestURL:    "rtmps://live.example.com:443/live/",
		IngestKey:    "sk",
		WHIPEndpoint: "https://live.example.com/in-1/webRTC/publish",
		PlaybackURL:  "https://cdn.example.com/in-1/manifest/video.m3u8",
	}, ingest)
}

func TestCreateIngestEnvelopeErrorIsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"errors":[{"code":10006,"message":"quota exceeded"}]}`))
	})

	_, err := c.CreateIngest(context.Background(), "x")
	assert.ErrorIs(t, err, provider.ErrRejected)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestCreateIngestIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"result":{"uid":"in-2","rtmps":{"url":"rtmps://x/","streamKey":"k"}}}`))
	})

	_, err := c.CreateIngest(context.Background(), "Weekly sync")
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	assert.EqualValues(t, 1, hits.Load())
}

func TestGetLiveStatus(t *testing.T) {
	entered := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var state atomic.Value
	state.Store("connected")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/stream/live_inputs/in-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"result":{"uid":"in-1","status":{"current":{"state":"` +
			state.Load().(string) + `","statusEnteredAt":"` + entered.Format(time.RFC3339) + `"}}}}`))
	})

	status, err := c.GetLiveStatus(context.Background(), "in-1")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.False(t, status.Disconnected())
	assert.True(t, status.ChangedAt.Equal(entered))
	assert.NotEmpty(t, status.Raw)

	state.Store("disconnected")
	status, err = c.GetLiveStatus(context.Background(), "in-1")
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.True(t, status.Disconnected())
}

func TestListRecordedAssetsFiltersForeignInputs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/stream/live_inputs/in-1/videos", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"result":[
			{"uid":"a1","liveInput":"in-1","readyToStream":true,"duration":12.5,"status":{"state":"ready"},
			 "playback":{"hls":"https://cdn.example.com/a1/manifest/video.m3u8"}},
			{"uid":"a2","liveInput":"in-1","status":{"state":"inprogress"}},
			{"uid":"a3","liveInput":"in-2","status":{"state":"ready"}},
			{"uid":"a4","liveInput":"in-1","status":{"state":"error"}}
		]}`))
	})

	assets, err := c.ListRecordedAssets(context.Background(), "in-1")
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, "a1", assets[0].ID)
	assert.Equal(t, constant.RecordingStatusReady, assets[0].Status)
	assert.Equal(t, 12.5, assets[0].DurationSeconds)
	assert.Equal(t, "https://cdn.example.com/a1/manifest/video.m3u8", assets[0].PlaybackURL)
	assert.Equal(t, constant.RecordingStatusProcessing, assets[1].Status)
	assert.Equal(t, "https://cdn.example.com/a2/manifest/video.m3u8", assets[1].PlaybackURL)
	assert.Equal(t, constant.RecordingStatusErrored, assets[2].Status)
}

func TestSignalCompleteIsBestEffort(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/stream/live_inputs/in-1/complete", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.SignalComplete(context.Background(), "in-1")
	assert.ErrorIs(t, err, provider.ErrRejected)
}
