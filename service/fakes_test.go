package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/entities"
	"stream-orchestrator/pkg/authz"
	"stream-orchestrator/pkg/provider"
	"stream-orchestrator/pkg/provider/bridge"
	"stream-orchestrator/pkg/provider/primary"
	"stream-orchestrator/repository"
)

var (
	owner = dto.Actor{ID: "user-1", Role: constant.RoleOperator}
	t0    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type fakePrimary struct {
	mu sync.Mutex

	createCalls   int
	completeCalls int
	createDelay   time.Duration
	createErr     error
	statusErr     error
	status        primary.LiveStatus
	assets        []primary.Asset
	byID          map[string]primary.Asset
}

func newFakePrimary() *fakePrimary {
	return &fakePrimary{byID: make(map[string]primary.Asset)}
}

func (f *fakePrimary) CreateIngest(ctx context.Context, title string) (primary.Ingest, error) {
	f.mu.Lock()
	f.createCalls++
	n := f.createCalls
	delay, err := f.createDelay, f.createErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return primary.Ingest{}, ctx.Err()
		}
	}
	if err != nil {
		return primary.Ingest{}, err
	}
	id := fmt.Sprintf("input-%d", n)
	return primary.Ingest{
		ID:           id,
		IngestURL:    "rtmps://live.example.com:443/live/",
		IngestKey:    "key-" + id,
		WHIPEndpoint: "https://live.example.com/" + id + "/webRTC/publish",
		PlaybackURL:  "https://cdn.example.com/" + id + "/manifest/video.m3u8",
	}, nil
}

func (f *fakePrimary) GetLiveStatus(ctx context.Context, ingestID string) (primary.LiveStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakePrimary) ListRecordedAssets(ctx context.Context, ingestID string) ([]primary.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]primary.Asset, 0, len(f.assets))
	for _, a := range f.assets {
		if a.LiveInputID == ingestID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakePrimary) GetAsset(ctx context.Context, assetID string) (primary.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[assetID]
	if !ok {
		return primary.Asset{}, fmt.Errorf("%w: asset %s", provider.ErrRejected, assetID)
	}
	return a, nil
}

func (f *fakePrimary) SignalComplete(ctx context.Context, ingestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	return nil
}

func (f *fakePrimary) setStatus(s primary.LiveStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *fakePrimary) setAssets(assets ...primary.Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets = assets
	for _, a := range assets {
		f.byID[a.ID] = a
	}
}

func (f *fakePrimary) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

type fakeBridge struct {
	mu sync.Mutex

	createCalls   int
	completeCalls int
	createDelay   time.Duration
	createErr     error
	getErr        error
	status        string
	lastParams    bridge.CreateParams
}

func (f *fakeBridge) CreateLiveStream(ctx context.Context, params bridge.CreateParams) (bridge.LiveStream, error) {
	f.mu.Lock()
	f.createCalls++
	n := f.createCalls
	f.lastParams = params
	delay, err := f.createDelay, f.createErr
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return bridge.LiveStream{}, err
	}
	return bridge.LiveStream{
		ID:         fmt.Sprintf("bridge-%d", n),
		StreamKey:  fmt.Sprintf("bridge-key-%d", n),
		IngestURL:  "rtmps://bridge.example.com:443/app",
		Status:     bridge.StatusIdle,
		PlaybackID: fmt.Sprintf("play-%d", n),
	}, nil
}

func (f *fakeBridge) GetLiveStream(ctx context.Context, id string) (bridge.LiveStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return bridge.LiveStream{}, f.getErr
	}
	return bridge.LiveStream{ID: id, Status: f.status}, nil
}

func (f *fakeBridge) SignalComplete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	return nil
}

func (f *fakeBridge) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []dto.TransitionNotice
}

func (n *recordingNotifier) Notify(ctx context.Context, notice dto.TransitionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) transitions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, string(notice.From)+"->"+string(notice.To))
	}
	return out
}

type recordingArchiver struct {
	mu        sync.Mutex
	manifests []dto.RecordingManifest
}

func (a *recordingArchiver) ArchiveManifest(ctx context.Context, manifest dto.RecordingManifest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manifests = append(a.manifests, manifest)
	return nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.manifests)
}

// clock is a settable time source shared by a test and the service.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *Service
	store    *repository.MemoryStore
	primary  *fakePrimary
	bridge   *fakeBridge
	notifier *recordingNotifier
	archiver *recordingArchiver
	clock    *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    repository.NewMemoryStore(),
		primary:  newFakePrimary(),
		bridge:   &fakeBridge{status: bridge.StatusIdle},
		notifier: &recordingNotifier{},
		archiver: &recordingArchiver{},
		clock:    &clock{now: t0},
	}
	h.svc = NewService(Dependencies{
		Store:      h.store,
		Primary:    h.primary,
		Bridge:     h.bridge,
		Authorizer: authz.NewStoreAuthorizer(h.store),
		Notifier:   h.notifier,
		Archiver:   h.archiver,
	}, Options{
		ProviderTimeout: time.Second,
		RecordingGrace:  10 * time.Minute,
		Now:             h.clock.Now,
	})
	return h
}

func (h *harness) createSession(t *testing.T) *entities.StreamSession {
	t.Helper()
	session, err := h.svc.Sessions.Create(context.Background(), owner, dto.CreateSessionRequest{Title: "Weekly sync"})
	require.NoError(t, err)
	return session
}

// liveSession returns a session that was started and has an ingest.
func (h *harness) liveSession(t *testing.T) *entities.StreamSession {
	t.Helper()
	session := h.createSession(t)
	started, err := h.svc.Sessions.Start(context.Background(), session.ID, owner)
	require.NoError(t, err)
	require.Equal(t, constant.SessionStatusLive, started.Status)
	return started
}

func (h *harness) get(t *testing.T, id uuid.UUID) *entities.StreamSession {
	t.Helper()
	session, err := h.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return session
}

func webhook(eventType, objectID string, payload string) dto.WebhookMessage {
	msg := dto.WebhookMessage{
		Provider:         constant.ProviderPrimary,
		ProviderObjectID: objectID,
		EventType:        eventType,
		ReceivedAt:       t0,
	}
	if payload != "" {
		msg.Payload = []byte(payload)
	}
	return msg
}

func liveInputPayload(eventType, inputID string, at time.Time) string {
	return fmt.Sprintf(`{"data":{"input_id":%q,"event_type":%q,"updated_at":%q}}`,
		inputID, eventType, at.Format(time.RFC3339Nano))
}

func readyAsset(id, inputID string, modified time.Time) primary.Asset {
	return primary.Asset{
		ID:              id,
		LiveInputID:     inputID,
		Status:          constant.RecordingStatusReady,
		DurationSeconds: 1800,
		PlaybackURL:     "https://cdn.example.com/" + id + "/manifest/video.m3u8",
		CreatedAt:       modified.Add(-30 * time.Minute),
		ModifiedAt:      modified,
	}
}
