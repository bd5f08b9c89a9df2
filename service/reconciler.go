package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/entities"
	"stream-orchestrator/pkg/provider/bridge"
	"stream-orchestrator/pkg/provider/primary"
	"stream-orchestrator/repository"
)

const (
	sourceWebhook = "webhook"
	sourcePoll    = "poll"
	sourceCommand = "command"
)

// Webhook outcomes reported to metrics.
const (
	webhookApplied   = "applied"
	webhookUnchanged = "unchanged"
	webhookDropped   = "dropped"
	webhookIgnored   = "ignored"
	webhookMalformed = "malformed"
	webhookFailed    = "failed"
)

// Reconciler converges local session state with what the providers report,
// from pushed webhooks and from polls alike.
type Reconciler interface {
	HandleWebhook(ctx context.Context, msg dto.WebhookMessage) error
	Poll(ctx context.Context, sessionID uuid.UUID, opts PollOptions) (*entities.StreamSession, error)
	PollActive(ctx context.Context) (int, error)
}

type PollOptions struct {
	// Surface returns provider failures to the caller instead of logging
	// them and reporting the stored state.
	Surface bool
}

// Connectivity is the encoder connection fact carried by an observation.
type Connectivity int

const (
	ConnectivityUnknown Connectivity = iota
	ConnectivityConnected
	// ConnectivityDisconnected is an explicit disconnect reported by the provider.
	ConnectivityDisconnected
	// ConnectivityIdle means nothing is connected; it only ends a session the
	// provider was last known to be feeding.
	ConnectivityIdle
)

// Observation is everything one webhook or one poll learned about a
// session's primary ingest. Both paths build one and hand it to
// applyProviderObservation, so equal provider facts give equal outcomes.
type Observation struct {
	Source         string
	Connectivity   Connectivity
	ConnectivityAt time.Time
	Errored        bool
	ErrorCode      string
	ErrorAt        time.Time
	Assets         []primary.Asset
	// AssetsChecked is set once the recordings were resolved against the provider.
	AssetsChecked bool
}

type transitionStep struct {
	from  constant.SessionStatus
	to    constant.SessionStatus
	event SessionEvent
}

type reconciler struct {
	*core
}

func (r *reconciler) HandleWebhook(ctx context.Context, msg dto.WebhookMessage) error {
	logger := zerolog.Ctx(ctx).With().
		Str("provider", string(msg.Provider)).
		Str("event", msg.EventType).
		Str("object_id", msg.ProviderObjectID).
		Logger()
	ctx = logger.WithContext(ctx)

	var (
		outcome string
		err     error
	)
	switch msg.Provider {
	case constant.ProviderPrimary, "":
		outcome, err = r.handlePrimaryWebhook(ctx, msg)
	case constant.ProviderBridge:
		outcome, err = r.handleBridgeWebhook(ctx, msg)
	default:
		outcome, err = webhookMalformed, errors.Join(ErrNonRetryable, fmt.Errorf("unknown provider %q", msg.Provider))
	}
	provider := string(msg.Provider)
	if provider == "" {
		provider = string(constant.ProviderPrimary)
	}
	r.deps.Metrics.ObserveWebhook(provider, outcome)
	if err != nil {
		logger.Error().Err(err).Str("outcome", outcome).Msg("failed to handle webhook")
		return err
	}
	logger.Debug().Str("outcome", outcome).Msg("webhook handled")
	return nil
}

func (r *reconciler) handlePrimaryWebhook(ctx context.Context, msg dto.WebhookMessage) (string, error) {
	event, err := primary.DecodeEvent(msg.EventType, msg.ProviderObjectID, msg.Payload)
	if err != nil {
		return webhookMalformed, errors.Join(ErrNonRetryable, err)
	}

	obs := Observation{Source: sourceWebhook}
	var (
		sessionID uuid.UUID
		found     bool
	)
	switch ev := event.(type) {
	case primary.LiveInputConnected:
		obs.Connectivity = ConnectivityConnected
		obs.ConnectivityAt = ev.At
		sessionID, found, err = r.resolveIngest(ctx, ev.LiveInputID)
	case primary.LiveInputDisconnected:
		obs.Connectivity = ConnectivityDisconnected
		obs.ConnectivityAt = ev.At
		sessionID, found, err = r.resolveIngest(ctx, ev.LiveInputID)
	case primary.LiveInputErrored:
		obs.Errored = true
		obs.ErrorCode = ev.Code
		obs.ErrorAt = ev.At
		sessionID, found, err = r.resolveIngest(ctx, ev.LiveInputID)
	case primary.AssetUpdated:
		var asset primary.Asset
		asset, sessionID, found, err = r.resolveAsset(ctx, ev)
		obs.Assets = []primary.Asset{asset}
		obs.AssetsChecked = true
	}
	if err != nil {
		if errors.Is(err, ErrProviderRejected) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("provider does not know the webhook object")
			return webhookDropped, nil
		}
		return webhookFailed, err
	}
	if !found {
		zerolog.Ctx(ctx).Info().Msg("no session for webhook object")
		return webhookDropped, nil
	}

	_, changed, err := r.applyProviderObservation(ctx, sessionID, obs)
	if err != nil {
		return webhookFailed, err
	}
	if !changed {
		return webhookUnchanged, nil
	}
	return webhookApplied, nil
}

func (r *reconciler) handleBridgeWebhook(ctx context.Context, msg dto.WebhookMessage) (string, error) {
	event, err := bridge.DecodeEvent(msg.EventType, msg.ProviderObjectID, msg.Payload)
	if err != nil {
		return webhookMalformed, errors.Join(ErrNonRetryable, err)
	}

	var bridgeEvent BridgeEvent
	switch event.(type) {
	case bridge.StreamActive:
		bridgeEvent = BridgeEventWentLive
	case bridge.StreamIdle:
		bridgeEvent = BridgeEventWentIdle
	case bridge.StreamDisconnected:
		bridgeEvent = BridgeEventDisconnected
	default:
		return webhookIgnored, nil
	}

	existing, err := r.deps.Store.FindBridgeByProviderStream(ctx, event.ObjectID())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			zerolog.Ctx(ctx).Info().Msg("no bridge for webhook object")
			return webhookDropped, nil
		}
		return webhookFailed, err
	}
	_, changed, err := r.applyBridgeEvent(ctx, existing.StreamSessionID, event.ObjectID(), bridgeEvent)
	if err != nil {
		return webhookFailed, err
	}
	if !changed {
		return webhookUnchanged, nil
	}
	return webhookApplied, nil
}

// resolveIngest maps a primary live input id to its session.
func (r *reconciler) resolveIngest(ctx context.Context, ingestID string) (uuid.UUID, bool, error) {
	if ingestID == "" {
		return uuid.Nil, false, nil
	}
	key := "ingest:" + ingestID
	if cached, ok := r.resolved.Get(key); ok {
		return cached.(uuid.UUID), true, nil
	}
	sessions, err := r.deps.Store.FindSessions(ctx, entities.ColProviderIngestID, ingestID)
	if err != nil {
		return uuid.Nil, false, err
	}
	if len(sessions) == 0 {
		return uuid.Nil, false, nil
	}
	r.resolved.Set(key, sessions[0].ID, cache.DefaultExpiration)
	return sessions[0].ID, true, nil
}

// resolveAsset maps an asset notification to its session: known assets by
// the recording table, new ones through the live input they were recorded
// from. Partial notifications are completed from the provider first.
func (r *reconciler) resolveAsset(ctx context.Context, ev primary.AssetUpdated) (primary.Asset, uuid.UUID, bool, error) {
	asset := ev.Asset
	if ev.Partial || asset.LiveInputID == "" {
		providerCtx, cancel := r.providerContext(ctx)
		fetched, err := r.deps.Primary.GetAsset(providerCtx, asset.ID)
		cancel()
		if err != nil {
			return asset, uuid.Nil, false, providerError("get asset", err)
		}
		asset = fetched
	}

	key := "asset:" + asset.ID
	if cached, ok := r.resolved.Get(key); ok {
		return asset, cached.(uuid.UUID), true, nil
	}
	recording, err := r.deps.Store.FindRecordingByAsset(ctx, asset.ID)
	switch {
	case err == nil:
		r.resolved.Set(key, recording.StreamSessionID, cache.DefaultExpiration)
		return asset, recording.StreamSessionID, true, nil
	case !errors.Is(err, repository.ErrNotFound):
		return asset, uuid.Nil, false, err
	}

	sessionID, found, err := r.resolveIngest(ctx, asset.LiveInputID)
	if err != nil || !found {
		return asset, uuid.Nil, found, err
	}
	r.resolved.Set(key, sessionID, cache.DefaultExpiration)
	return asset, sessionID, true, nil
}

func (r *reconciler) Poll(ctx context.Context, sessionID uuid.UUID, opts PollOptions) (*entities.StreamSession, error) {
	session, err := r.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	if !session.HasIngest() {
		return session, nil
	}

	obs, err := r.observe(ctx, *session.ProviderIngestID)
	r.deps.Metrics.ObservePoll(err)
	if err != nil {
		if opts.Surface {
			return nil, err
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID.String()).Msg("poll failed, reporting stored state")
		return session, nil
	}
	updated, _, err := r.applyProviderObservation(ctx, sessionID, obs)
	return updated, err
}

func (r *reconciler) observe(ctx context.Context, ingestID string) (Observation, error) {
	providerCtx, cancel := r.providerContext(ctx)
	defer cancel()

	status, err := r.deps.Primary.GetLiveStatus(providerCtx, ingestID)
	if err != nil {
		return Observation{}, providerError("get live status", err)
	}
	assets, err := r.deps.Primary.ListRecordedAssets(providerCtx, ingestID)
	if err != nil {
		return Observation{}, providerError("list recorded assets", err)
	}

	obs := Observation{
		Source:         sourcePoll,
		ConnectivityAt: status.ChangedAt,
		Assets:         assets,
		AssetsChecked:  true,
	}
	switch {
	case status.Connected:
		obs.Connectivity = ConnectivityConnected
	case status.Disconnected():
		obs.Connectivity = ConnectivityDisconnected
	default:
		obs.Connectivity = ConnectivityIdle
	}
	return obs, nil
}

func (r *reconciler) PollActive(ctx context.Context) (int, error) {
	sessions, err := r.deps.Store.ListSessionsByStatus(ctx,
		constant.SessionStatusLive,
		constant.SessionStatusEnding,
		constant.SessionStatusScheduled,
	)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	now := r.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.PollConcurrency)
	polled := 0
	for _, session := range sessions {
		if session.Status == constant.SessionStatusScheduled && !scheduleElapsed(session, now) {
			continue
		}
		if !session.HasIngest() {
			continue
		}
		id := session.ID
		polled++
		g.Go(func() error {
			if _, err := r.Poll(gctx, id, PollOptions{}); err != nil {
				zerolog.Ctx(gctx).Warn().Err(err).Str("session_id", id.String()).Msg("failed to poll session")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return polled, err
	}
	r.deps.Metrics.SetActiveSessions(polled)
	zerolog.Ctx(ctx).Debug().Int("sessions", polled).Msg("reconciliation pass finished")
	return polled, ctx.Err()
}

// scheduleElapsed reports whether a scheduled session's start time passed,
// which makes it eligible for polling.
func scheduleElapsed(session *entities.StreamSession, now time.Time) bool {
	return session.ScheduledStartTime != nil && !now.Before(*session.ScheduledStartTime)
}

// applyProviderObservation is the only place provider facts reach the store.
// It runs under the session lock, persists only what changed and announces
// every transition once the lock is released. The flag reports whether
// anything was written.
func (r *reconciler) applyProviderObservation(ctx context.Context, sessionID uuid.UUID, obs Observation) (*entities.StreamSession, bool, error) {
	session, wrote, steps, err := r.applyLocked(ctx, sessionID, obs)
	if err != nil {
		return nil, false, err
	}
	completed := false
	for _, step := range steps {
		r.announce(ctx, sessionID, step.from, step.to, step.event, obs.Source)
		if step.to == constant.SessionStatusCompleted {
			completed = true
		}
	}
	if completed {
		r.archive(ctx, session)
	}
	return session, wrote, nil
}

func (r *reconciler) applyLocked(ctx context.Context, sessionID uuid.UUID, obs Observation) (*entities.StreamSession, bool, []transitionStep, error) {
	release, err := r.lockSession(ctx, sessionID)
	if err != nil {
		return nil, false, nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer release()

	session, err := r.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, nil, storeError("get session", err)
	}

	now := r.now()
	logger := zerolog.Ctx(ctx).With().Str("session_id", sessionID.String()).Str("source", obs.Source).Logger()
	fields := make(map[string]interface{})
	wrote := false

	for _, asset := range obs.Assets {
		if asset.ID == "" {
			continue
		}
		if asset.LiveInputID != "" && session.HasIngest() && asset.LiveInputID != *session.ProviderIngestID {
			logger.Warn().Str("asset_id", asset.ID).Str("live_input_id", asset.LiveInputID).Msg("asset belongs to another ingest")
			continue
		}
		recording := recordingFromAsset(asset)
		if existing, ok := session.Recording(asset.ID); ok && sameRecording(*existing, recording) {
			continue
		}
		stored, created, err := r.deps.Store.UpsertRecording(ctx, sessionID, recording)
		if err != nil {
			return nil, false, nil, fmt.Errorf("upsert recording %s: %w", asset.ID, err)
		}
		wrote = true
		if existing, ok := session.Recording(asset.ID); ok {
			*existing = *stored
		} else {
			session.RecordingSessions = append(session.RecordingSessions, *stored)
		}
		logger.Info().
			Str("asset_id", asset.ID).
			Str("recording_status", string(stored.Status)).
			Bool("created", created).
			Msg("recording ingested")
	}

	if obs.AssetsChecked && session.RecordingsCheckedAt == nil {
		fields[entities.ColRecordingsCheckedAt] = now
		session.RecordingsCheckedAt = &now
	}

	var (
		status    = session.Status
		connected = session.ProviderConnected
		lastEvent = SessionEvent(session.LastProviderEvent)
		lastAt    = session.LastProviderEventAt
		steps     []transitionStep
	)

	accept := func(event SessionEvent, at time.Time) bool {
		if Stale(lastEvent, lastAt, event, at) {
			logger.Debug().Str("event", string(event)).Time("at", at).Msg("stale provider event")
			return false
		}
		if !at.IsZero() {
			t := at
			lastEvent, lastAt = event, &t
		}
		return true
	}
	apply := func(event SessionEvent) {
		outcome := Transition(status, event, connected)
		if !outcome.Changed {
			return
		}
		if outcome.SetActualStart && session.ActualStartTime == nil {
			fields[entities.ColActualStartTime] = now
		}
		if outcome.SetEndTime && session.EndTime == nil {
			if _, set := fields[entities.ColEndTime]; !set {
				fields[entities.ColEndTime] = now
			}
		}
		steps = append(steps, transitionStep{from: status, to: outcome.Next, event: event})
		status = outcome.Next
	}

	switch obs.Connectivity {
	case ConnectivityConnected:
		if accept(EventProviderConnected, obs.ConnectivityAt) {
			connected = true
			apply(EventProviderConnected)
		}
	case ConnectivityDisconnected:
		if accept(EventProviderDisconnected, obs.ConnectivityAt) {
			connected = false
			apply(EventProviderDisconnected)
		}
	case ConnectivityIdle:
		if connected && accept(EventProviderDisconnected, obs.ConnectivityAt) {
			connected = false
			apply(EventProviderDisconnected)
		}
	}

	if obs.Errored && accept(EventProviderError, obs.ErrorAt) {
		fields[entities.ColLastError] = "provider reported live input error " + obs.ErrorCode
		apply(EventProviderError)
	}

	if status == constant.SessionStatusLive || status == constant.SessionStatusEnding {
		ready, processing, readyAt := recordingState(session.RecordingSessions)
		if ready && accept(EventRecordingReady, readyAt) {
			apply(EventRecordingReady)
		} else if status == constant.SessionStatusEnding && !connected && !processing &&
			session.RecordingsCheckedAt != nil && session.StopRequestedAt != nil {
			if now.Sub(*session.StopRequestedAt) >= r.opts.RecordingGrace {
				logger.Info().Dur("grace", r.opts.RecordingGrace).Msg("no fresh recording after grace period, completing without one")
				apply(EventRecordingReady)
			}
		}
	}

	if status == constant.SessionStatusCompleted && session.RecordingsCheckedAt == nil {
		fields[entities.ColRecordingsCheckedAt] = now
	}
	if status != session.Status {
		fields[entities.ColStatus] = status
	}
	if connected != session.ProviderConnected {
		fields[entities.ColProviderConnected] = connected
	}
	if string(lastEvent) != session.LastProviderEvent {
		fields[entities.ColLastProviderEvent] = string(lastEvent)
	}
	if !sameTime(lastAt, session.LastProviderEventAt) {
		fields[entities.ColLastProviderEventAt] = *lastAt
	}

	if len(fields) > 0 {
		if err := r.deps.Store.UpdateSession(ctx, sessionID, fields); err != nil {
			return nil, false, nil, storeError("update session", err)
		}
		wrote = true
	}
	if !wrote {
		return session, false, nil, nil
	}
	updated, err := r.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, nil, storeError("get session", err)
	}
	return updated, true, steps, nil
}

func (r *reconciler) archive(ctx context.Context, session *entities.StreamSession) {
	manifest := dto.RecordingManifest{
		SessionID:   session.ID,
		Title:       session.Title,
		StartTime:   session.ActualStartTime,
		EndTime:     session.EndTime,
		Recordings:  session.RecordingSessions,
		GeneratedAt: r.now(),
	}
	if err := r.deps.Archiver.ArchiveManifest(ctx, manifest); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", session.ID.String()).Msg("failed to archive recording manifest")
	}
}

func recordingState(recordings []entities.RecordingSession) (ready, processing bool, readyAt time.Time) {
	for _, recording := range recordings {
		switch recording.Status {
		case constant.RecordingStatusReady:
			ready = true
			if recording.EndTime != nil && recording.EndTime.After(readyAt) {
				readyAt = *recording.EndTime
			}
		case constant.RecordingStatusProcessing:
			processing = true
		}
	}
	return ready, processing, readyAt
}

func recordingFromAsset(asset primary.Asset) entities.RecordingSession {
	recording := entities.RecordingSession{
		ProviderAssetID: asset.ID,
		DurationSeconds: asset.DurationSeconds,
		Status:          asset.Status,
		RecordingURL:    asset.RecordingURL,
		PlaybackURL:     asset.PlaybackURL,
	}
	if !asset.CreatedAt.IsZero() {
		start := asset.CreatedAt.UTC()
		recording.StartTime = &start
	}
	if asset.Status == constant.RecordingStatusReady && !asset.ModifiedAt.IsZero() {
		end := asset.ModifiedAt.UTC()
		recording.EndTime = &end
	}
	return recording
}

func sameRecording(a, b entities.RecordingSession) bool {
	return a.Status == b.Status &&
		a.DurationSeconds == b.DurationSeconds &&
		a.RecordingURL == b.RecordingURL &&
		a.PlaybackURL == b.PlaybackURL &&
		sameTime(a.StartTime, b.StartTime) &&
		sameTime(a.EndTime, b.EndTime)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// applyBridgeEvent runs the bridge state machine under the bridge lock.
// streamID guards against events for a bridge that has since been replaced.
func (c *core) applyBridgeEvent(ctx context.Context, sessionID uuid.UUID, streamID string, event BridgeEvent) (*entities.BridgeSession, bool, error) {
	release, err := c.deps.Locker.Lock(ctx, bridgeKey(sessionID))
	if err != nil {
		return nil, false, fmt.Errorf("lock bridge %s: %w", sessionID, err)
	}
	defer release()

	current, err := c.deps.Store.GetBridge(ctx, sessionID)
	if err != nil {
		return nil, false, storeError("get bridge", err)
	}
	if streamID != "" && current.BridgeProviderStreamID != streamID {
		return current, false, nil
	}
	return c.transitionBridgeLocked(ctx, current, event, "")
}

func (c *core) transitionBridgeLocked(ctx context.Context, current *entities.BridgeSession, event BridgeEvent, lastError string) (*entities.BridgeSession, bool, error) {
	next, changed := BridgeTransition(current.Status, event)
	if !changed {
		return current, false, nil
	}

	now := c.now()
	fields := map[string]interface{}{entities.ColBridgeStatus: next}
	updated := *current
	updated.Status = next
	if next == constant.BridgeStatusActive && current.StartedAt == nil {
		fields[entities.ColBridgeStartedAt] = now
		updated.StartedAt = &now
	}
	if next == constant.BridgeStatusCompleted {
		fields[entities.ColBridgeCompletedAt] = now
		updated.CompletedAt = &now
	}
	if lastError != "" {
		fields[entities.ColBridgeLastError] = lastError
		updated.LastError = lastError
	}
	if err := c.deps.Store.UpdateBridge(ctx, current.StreamSessionID, fields); err != nil {
		return nil, false, storeError("update bridge", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", current.StreamSessionID.String()).
		Str("from", string(current.Status)).
		Str("to", string(next)).
		Str("event", string(event)).
		Msg("bridge transition")
	return &updated, true, nil
}
