// Package primary adapts the primary ingest/recording provider: live inputs
// with RTMPS and WHIP credentials, per-input recorded assets, and the
// provider's webhooks. Provider payloads never leave this package; callers
// see Ingest, LiveStatus, Asset and the WebhookEvent sum type.
package primary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stream-orchestrator/constant"
	"stream-orchestrator/pkg/provider"
)

const Name = string(constant.ProviderPrimary)

type Config struct {
	BaseURL         string
	AccountID       string
	APIToken        string
	PlaybackBaseURL string
	// RecordingTimeout is how long the provider waits for a reconnect before
	// closing the recording of a disconnected input.
	RecordingTimeout time.Duration
}

// Ingest is a provisioned live input.
type Ingest struct {
	ID           string
	IngestURL    string
	IngestKey    string
	WHIPEndpoint string
	PlaybackURL  string
}

type LiveStatus struct {
	Connected bool
	State     string
	ChangedAt time.Time
	Raw       json.RawMessage
}

// Disconnected reports an encoder that was connected and went away, as
// opposed to an input nobody has pushed to yet.
func (s LiveStatus) Disconnected() bool {
	return s.State == "disconnected"
}

// Asset is one recorded artifact of a live input.
type Asset struct {
	ID              string
	LiveInputID     string
	Status          constant.RecordingStatus
	DurationSeconds float64
	PlaybackURL     string
	RecordingURL    string
	CreatedAt       time.Time
	ModifiedAt      time.Time
}

type Client struct {
	cfg  Config
	http *provider.Client
}

func NewClient(cfg Config, opts ...provider.ClientOption) *Client {
	if cfg.RecordingTimeout <= 0 {
		cfg.RecordingTimeout = 60 * time.Second
	}
	cfg.PlaybackBaseURL = strings.TrimRight(cfg.PlaybackBaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: provider.NewClient(Name, cfg.BaseURL, provider.SetBearer(cfg.APIToken), opts...),
	}
}

type envelope[T any] struct {
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
	Result  T          `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type liveInputRequest struct {
	Meta      map[string]string `json:"meta"`
	Recording recordingSettings `json:"recording"`
}

type recordingSettings struct {
	Mode           string `json:"mode"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type liveInput struct {
	UID   string `json:"uid"`
	RTMPS struct {
		URL       string `json:"url"`
		StreamKey string `json:"streamKey"`
	} `json:"rtmps"`
	WebRTC struct {
		URL string `json:"url"`
	} `json:"webRTC"`
	Status *liveInputStatus `json:"status"`
}

type liveInputStatus struct {
	Current struct {
		State           string    `json:"state"`
		StatusEnteredAt time.Time `json:"statusEnteredAt"`
	} `json:"current"`
}

type video struct {
	UID           string  `json:"uid"`
	LiveInput     string  `json:"liveInput"`
	ReadyToStream bool    `json:"readyToStream"`
	Duration      float64 `json:"duration"`
	Preview       string  `json:"preview"`
	Status        struct {
		State string `json:"state"`
	} `json:"status"`
	Playback struct {
		HLS  string `json:"hls"`
		DASH string `json:"dash"`
	} `json:"playback"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// CreateIngest provisions a new live input with automatic recording.
func (c *Client) CreateIngest(ctx context.Context, title string) (Ingest, error) {
	req := liveInputRequest{
		Meta: map[string]string{"name": title},
		Recording: recordingSettings{
			Mode:           "automatic",
			TimeoutSeconds: int(c.cfg.RecordingTimeout / time.Second),
		},
	}
	var resp envelope[liveInput]
	if err := c.http.DoOnce(ctx, "create_ingest", http.MethodPost, c.accountPath("/stream/live_inputs"), req, &resp); err != nil {
		return Ingest{}, err
	}
	if err := resp.check(); err != nil {
		return Ingest{}, err
	}
	in := resp.Result
	if in.UID == "" {
		return Ingest{}, fmt.Errorf("%w: live input without uid", provider.ErrMalformed)
	}
	return Ingest{
		ID:           in.UID,
		IngestURL:    in.RTMPS.URL,
		IngestKey:    in.RTMPS.StreamKey,
		WHIPEndpoint: in.WebRTC.URL,
		PlaybackURL:  c.playbackURL(in.UID),
	}, nil
}

// GetLiveStatus reports whether an encoder is currently connected.
func (c *Client) GetLiveStatus(ctx context.Context, ingestID string) (LiveStatus, error) {
	var raw json.RawMessage
	if err := c.http.Do(ctx, "get_live_status", http.MethodGet, c.accountPath("/stream/live_inputs/"+url.PathEscape(ingestID)), nil, &raw); err != nil {
		return LiveStatus{}, err
	}
	var resp envelope[liveInput]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return LiveStatus{}, fmt.Errorf("%w: %v", provider.ErrMalformed, err)
	}
	if err := resp.check(); err != nil {
		return LiveStatus{}, err
	}
	status := LiveStatus{Raw: raw}
	if resp.Result.Status != nil {
		status.State = resp.Result.Status.Current.State
		status.ChangedAt = resp.Result.Status.Current.StatusEnteredAt
		status.Connected = connectedState(status.State)
	}
	return status, nil
}

// ListRecordedAssets returns the assets recorded from one live input. The
// per-input listing is filtered again on the liveInput association so a
// misbehaving listing can never leak another session's recordings.
func (c *Client) ListRecordedAssets(ctx context.Context, ingestID string) ([]Asset, error) {
	var resp envelope[[]video]
	path := c.accountPath("/stream/live_inputs/" + url.PathEscape(ingestID) + "/videos")
	if err := c.http.Do(ctx, "list_assets", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(); err != nil {
		return nil, err
	}
	assets := make([]Asset, 0, len(resp.Result))
	for _, v := range resp.Result {
		if v.LiveInput != ingestID {
			continue
		}
		assets = append(assets, c.toAsset(v))
	}
	return assets, nil
}

// GetAsset fetches a single asset; used to resolve asset-only webhooks.
func (c *Client) GetAsset(ctx context.Context, assetID string) (Asset, error) {
	var resp envelope[video]
	if err := c.http.Do(ctx, "get_asset", http.MethodGet, c.accountPath("/stream/"+url.PathEscape(assetID)), nil, &resp); err != nil {
		return Asset{}, err
	}
	if err := resp.check(); err != nil {
		return Asset{}, err
	}
	return c.toAsset(resp.Result), nil
}

// SignalComplete asks the provider to finalize the input's current
// recording. Completion normally happens on disconnect, so callers treat
// failures as non-fatal.
func (c *Client) SignalComplete(ctx context.Context, ingestID string) error {
	path := c.accountPath("/stream/live_inputs/" + url.PathEscape(ingestID) + "/complete")
	return c.http.Do(ctx, "signal_complete", http.MethodPost, path, nil, nil)
}

func (c *Client) accountPath(suffix string) string {
	return "/accounts/" + url.PathEscape(c.cfg.AccountID) + suffix
}

func (c *Client) playbackURL(uid string) string {
	if c.cfg.PlaybackBaseURL == "" || uid == "" {
		return ""
	}
	return c.cfg.PlaybackBaseURL + "/" + uid + "/manifest/video.m3u8"
}

func (c *Client) toAsset(v video) Asset {
	playback := v.Playback.HLS
	if playback == "" {
		playback = c.playbackURL(v.UID)
	}
	return Asset{
		ID:              v.UID,
		LiveInputID:     v.LiveInput,
		Status:          assetStatus(v.Status.State, v.ReadyToStream),
		DurationSeconds: v.Duration,
		PlaybackURL:     playback,
		RecordingURL:    v.Preview,
		CreatedAt:       v.Created,
		ModifiedAt:      v.Modified,
	}
}

func (e envelope[T]) check() error {
	if e.Success || len(e.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, apiErr := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%d %s", apiErr.Code, apiErr.Message))
	}
	return fmt.Errorf("%w: %s", provider.ErrRejected, strings.Join(msgs, "; "))
}

func connectedState(state string) bool {
	switch state {
	case "connected", "reconnected":
		return true
	default:
		return false
	}
}

func assetStatus(state string, readyToStream bool) constant.RecordingStatus {
	switch state {
	case "ready":
		return constant.RecordingStatusReady
	case "error":
		return constant.RecordingStatusErrored
	}
	if readyToStream && state == "" {
		return constant.RecordingStatusReady
	}
	return constant.RecordingStatusProcessing
}
