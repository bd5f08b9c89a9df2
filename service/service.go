package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/entities"
	"stream-orchestrator/pkg/lock"
	"stream-orchestrator/pkg/provider/bridge"
	"stream-orchestrator/pkg/provider/primary"
	"stream-orchestrator/repository"
)

type PrimaryProvider interface {
	CreateIngest(ctx context.Context, title string) (primary.Ingest, error)
	GetLiveStatus(ctx context.Context, ingestID string) (primary.LiveStatus, error)
	ListRecordedAssets(ctx context.Context, ingestID string) ([]primary.Asset, error)
	GetAsset(ctx context.Context, assetID string) (primary.Asset, error)
	SignalComplete(ctx context.Context, ingestID string) error
}

type BridgeProvider interface {
	CreateLiveStream(ctx context.Context, params bridge.CreateParams) (bridge.LiveStream, error)
	GetLiveStream(ctx context.Context, id string) (bridge.LiveStream, error)
	SignalComplete(ctx context.Context, id string) error
}

type Authorizer interface {
	CanPerform(ctx context.Context, actor dto.Actor, sessionID uuid.UUID, action constant.Action) (bool, error)
}

// Notifier publishes persisted status transitions.
type Notifier interface {
	Notify(ctx context.Context, notice dto.TransitionNotice) error
}

// Archiver stores the recording manifest of a completed session.
type Archiver interface {
	ArchiveManifest(ctx context.Context, manifest dto.RecordingManifest) error
}

type Metrics interface {
	ObserveTransition(from, to, source string)
	ObserveWebhook(provider, outcome string)
	ObservePoll(err error)
	SetActiveSessions(n int)
}

type Dependencies struct {
	Store      repository.SessionStore
	Primary    PrimaryProvider
	Bridge     BridgeProvider
	Authorizer Authorizer
	Locker     lock.Locker
	Notifier   Notifier
	Archiver   Archiver
	Metrics    Metrics
}

type Options struct {
	// ProviderTimeout bounds every provider call made while a session is locked.
	ProviderTimeout time.Duration
	// RecordingGrace is how long an ended session waits for a recording
	// before completing with none.
	RecordingGrace time.Duration
	// PollConcurrency caps parallel polls in one reconciliation pass.
	PollConcurrency int
	// ResolutionTTL is how long webhook object ids stay mapped to sessions.
	ResolutionTTL time.Duration
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 10 * time.Second
	}
	if o.RecordingGrace <= 0 {
		o.RecordingGrace = 10 * time.Minute
	}
	if o.PollConcurrency <= 0 {
		o.PollConcurrency = 8
	}
	if o.ResolutionTTL <= 0 {
		o.ResolutionTTL = 10 * time.Minute
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Service bundles the command surface, the bridge manager and the
// reconciler. All three share one lock namespace and one store.
type Service struct {
	Sessions   SessionService
	Bridges    BridgeManager
	Reconciler Reconciler
}

func NewService(deps Dependencies, opts Options) *Service {
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyedMutex()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Archiver == nil {
		deps.Archiver = nopArchiver{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	opts = opts.withDefaults()

	c := &core{
		deps:     deps,
		opts:     opts,
		resolved: cache.New(opts.ResolutionTTL, 2*opts.ResolutionTTL),
	}
	rec := &reconciler{core: c}
	return &Service{
		Sessions:   &sessionService{core: c, reconciler: rec},
		Bridges:    &bridgeManager{core: c},
		Reconciler: rec,
	}
}

type core struct {
	deps     Dependencies
	opts     Options
	ingests  singleflight.Group
	resolved *cache.Cache
}

func (c *core) now() time.Time {
	return c.opts.Now()
}

func (c *core) authorize(ctx context.Context, actor dto.Actor, sessionID uuid.UUID, action constant.Action) error {
	if c.deps.Authorizer == nil {
		return nil
	}
	ok, err := c.deps.Authorizer.CanPerform(ctx, actor, sessionID, action)
	if err != nil {
		return storeError("authorize", err)
	}
	if !ok {
		zerolog.Ctx(ctx).Info().
			Str("session_id", sessionID.String()).
			Str("actor", actor.ID).
			Str("action", string(action)).
			Msg("permission denied")
		return fmt.Errorf("%s on session %s: %w", action, sessionID, ErrPermissionDenied)
	}
	return nil
}

func sessionKey(id uuid.UUID) string {
	return "session:" + id.String()
}

func bridgeKey(id uuid.UUID) string {
	return "bridge:" + id.String()
}

func (c *core) lockSession(ctx context.Context, id uuid.UUID) (func(), error) {
	return c.deps.Locker.Lock(ctx, sessionKey(id))
}

func (c *core) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.ProviderTimeout)
}

// ensureIngestLocked provisions the primary live input if the session has
// none yet. The caller holds the session lock. The returned fields are not
// persisted: a failed or timed out call therefore leaves the session as it
// was. A rejected creation moves the session to error and is persisted.
func (c *core) ensureIngestLocked(ctx context.Context, session *entities.StreamSession) (map[string]interface{}, error) {
	if session.HasIngest() {
		return nil, nil
	}

	providerCtx, cancel := c.providerContext(ctx)
	defer cancel()
	ingest, err := c.deps.Primary.CreateIngest(providerCtx, session.Title)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to create ingest")
		err = providerError("create ingest", err)
		if errors.Is(err, ErrProviderRejected) {
			c.failSessionLocked(ctx, session, err)
		}
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", session.ID.String()).
		Str("ingest_id", ingest.ID).
		Msg("ingest created")

	ingestID := ingest.ID
	session.ProviderIngestID = &ingestID
	session.Credentials = entities.Credentials{
		IngestURL:    ingest.IngestURL,
		IngestKey:    ingest.IngestKey,
		WHIPEndpoint: ingest.WHIPEndpoint,
		PlaybackURL:  ingest.PlaybackURL,
	}
	return map[string]interface{}{
		entities.ColProviderIngestID: ingestID,
		entities.ColIngestURL:        ingest.IngestURL,
		entities.ColIngestKey:        ingest.IngestKey,
		entities.ColWHIPEndpoint:     ingest.WHIPEndpoint,
		entities.ColPlaybackURL:      ingest.PlaybackURL,
	}, nil
}

func (c *core) failSessionLocked(ctx context.Context, session *entities.StreamSession, cause error) {
	outcome := Transition(session.Status, EventProviderError, session.ProviderConnected)
	fields := map[string]interface{}{entities.ColLastError: cause.Error()}
	if outcome.Changed {
		fields[entities.ColStatus] = outcome.Next
	}
	if err := c.deps.Store.UpdateSession(ctx, session.ID, fields); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to record provider error")
		return
	}
	if outcome.Changed {
		c.announce(ctx, session.ID, session.Status, outcome.Next, EventProviderError, "command")
		session.Status = outcome.Next
	}
	session.LastError = cause.Error()
}

// announce records and publishes one persisted transition.
func (c *core) announce(ctx context.Context, id uuid.UUID, from, to constant.SessionStatus, event SessionEvent, source string) {
	zerolog.Ctx(ctx).Info().
		Str("session_id", id.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Str("event", string(event)).
		Str("source", source).
		Msg("session transition")
	c.deps.Metrics.ObserveTransition(from.String(), to.String(), source)
	notice := dto.TransitionNotice{
		SessionID: id,
		From:      from,
		To:        to,
		Event:     string(event),
		Source:    source,
		At:        c.now(),
	}
	if err := c.deps.Notifier.Notify(ctx, notice); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", id.String()).Msg("failed to publish transition")
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, dto.TransitionNotice) error { return nil }

type nopArchiver struct{}

func (nopArchiver) ArchiveManifest(context.Context, dto.RecordingManifest) error { return nil }

type nopMetrics struct{}

func (nopMetrics) ObserveTransition(string, string, string) {}
func (nopMetrics) ObserveWebhook(string, string)            {}
func (nopMetrics) ObservePoll(error)                        {}
func (nopMetrics) SetActiveSessions(int)                    {}
