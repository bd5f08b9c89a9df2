// Package bridge adapts the secondary provider that accepts browser/phone
// WebRTC or RTMP contributions and simulcasts them as RTMP into the primary
// provider's ingest.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"stream-orchestrator/constant"
	"stream-orchestrator/pkg/provider"
)

const Name = string(constant.ProviderBridge)

type Config struct {
	BaseURL     string
	TokenID     string
	TokenSecret string
	// IngestURL is where contributors push to, e.g. rtmps://host:443/app.
	IngestURL string
	// ReconnectWindow is how long the provider keeps a dropped stream open.
	ReconnectWindowSeconds int
}

type CreateParams struct {
	Title         string
	PassthroughID string
	SimulcastURL  string
	SimulcastKey  string
}

// Provider-side stream states.
const (
	StatusIdle     = "idle"
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

type LiveStream struct {
	ID         string
	StreamKey  string
	IngestURL  string
	Status     string
	PlaybackID string
}

type Client struct {
	cfg  Config
	http *provider.Client
}

func NewClient(cfg Config, opts ...provider.ClientOption) *Client {
	if cfg.ReconnectWindowSeconds <= 0 {
		cfg.ReconnectWindowSeconds = 60
	}
	return &Client{
		cfg:  cfg,
		http: provider.NewClient(Name, cfg.BaseURL, provider.SetBasicAuth(cfg.TokenID, cfg.TokenSecret), opts...),
	}
}

type createRequest struct {
	PlaybackPolicy   []string          `json:"playback_policy"`
	Passthrough      string            `json:"passthrough"`
	LatencyMode      string            `json:"latency_mode"`
	ReconnectWindow  int               `json:"reconnect_window"`
	SimulcastTargets []simulcastTarget `json:"simulcast_targets"`
}

type simulcastTarget struct {
	URL         string `json:"url"`
	StreamKey   string `json:"stream_key"`
	Passthrough string `json:"passthrough,omitempty"`
}

type liveStream struct {
	ID          string `json:"id"`
	StreamKey   string `json:"stream_key"`
	Status      string `json:"status"`
	Passthrough string `json:"passthrough"`
	PlaybackIDs []struct {
		ID     string `json:"id"`
		Policy string `json:"policy"`
	} `json:"playback_ids"`
}

type dataEnvelope struct {
	Data liveStream `json:"data"`
}

// CreateLiveStream provisions a bridge stream relaying into the primary
// ingest described by params.
func (c *Client) CreateLiveStream(ctx context.Context, params CreateParams) (LiveStream, error) {
	if params.SimulcastURL == "" {
		return LiveStream{}, fmt.Errorf("%w: simulcast target required", provider.ErrRejected)
	}
	req := createRequest{
		PlaybackPolicy:  []string{"public"},
		Passthrough:     params.PassthroughID,
		LatencyMode:     "low",
		ReconnectWindow: c.cfg.ReconnectWindowSeconds,
		SimulcastTargets: []simulcastTarget{{
			URL:         params.SimulcastURL,
			StreamKey:   params.SimulcastKey,
			Passthrough: params.Title,
		}},
	}
	var resp dataEnvelope
	if err := c.http.DoOnce(ctx, "create_live_stream", http.MethodPost, "/video/v1/live-streams", req, &resp); err != nil {
		return LiveStream{}, err
	}
	if resp.Data.ID == "" {
		return LiveStream{}, fmt.Errorf("%w: live stream without id", provider.ErrMalformed)
	}
	return c.toLiveStream(resp.Data), nil
}

func (c *Client) GetLiveStream(ctx context.Context, id string) (LiveStream, error) {
	var resp dataEnvelope
	if err := c.http.Do(ctx, "get_live_stream", http.MethodGet, "/video/v1/live-streams/"+url.PathEscape(id), nil, &resp); err != nil {
		return LiveStream{}, err
	}
	return c.toLiveStream(resp.Data), nil
}

// SignalComplete ends the bridge stream immediately instead of waiting out
// the reconnect window. Best-effort for callers.
func (c *Client) SignalComplete(ctx context.Context, id string) error {
	return c.http.Do(ctx, "signal_complete", http.MethodPut, "/video/v1/live-streams/"+url.PathEscape(id)+"/complete", nil, nil)
}

func (c *Client) toLiveStream(ls liveStream) LiveStream {
	out := LiveStream{
		ID:        ls.ID,
		StreamKey: ls.StreamKey,
		IngestURL: c.cfg.IngestURL,
		Status:    ls.Status,
	}
	if len(ls.PlaybackIDs) > 0 {
		out.PlaybackID = ls.PlaybackIDs[0].ID
	}
	return out
}
