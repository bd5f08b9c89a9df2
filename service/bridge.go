package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/entities"
	"stream-orchestrator/pkg/provider/bridge"
	"stream-orchestrator/repository"
)

// BridgeManager runs the optional relay stream that carries a WebRTC
// contribution into the primary ingest. Its lifecycle is independent of the
// session's: the session status is only ever decided by the primary provider.
type BridgeManager interface {
	StartBridge(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (dto.BridgeCredentials, error)
	GetBridgeStatus(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (dto.BridgeStatusResponse, error)
	StopBridge(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.BridgeSession, error)
}

type bridgeManager struct {
	*core
}

func (b *bridgeManager) StartBridge(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (dto.BridgeCredentials, error) {
	if err := b.authorize(ctx, actor, sessionID, constant.ActionEdit); err != nil {
		return dto.BridgeCredentials{}, err
	}
	if b.deps.Bridge == nil {
		return dto.BridgeCredentials{}, fmt.Errorf("start bridge: bridge provider not configured: %w", ErrProviderUnavailable)
	}

	release, err := b.deps.Locker.Lock(ctx, bridgeKey(sessionID))
	if err != nil {
		return dto.BridgeCredentials{}, fmt.Errorf("lock bridge %s: %w", sessionID, err)
	}
	defer release()

	existing, err := b.deps.Store.GetBridge(ctx, sessionID)
	switch {
	case err == nil && existing.Reusable():
		zerolog.Ctx(ctx).Info().
			Str("session_id", sessionID.String()).
			Str("bridge_status", string(existing.Status)).
			Msg("reusing existing bridge")
		creds := bridgeCredentials(existing)
		creds.Reused = true
		return creds, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return dto.BridgeCredentials{}, storeError("get bridge", err)
	}

	session, err := b.provisionIngest(ctx, sessionID)
	if err != nil {
		return dto.BridgeCredentials{}, err
	}

	providerCtx, cancel := b.providerContext(ctx)
	defer cancel()
	stream, err := b.deps.Bridge.CreateLiveStream(providerCtx, bridge.CreateParams{
		Title:         session.Title,
		PassthroughID: sessionID.String(),
		SimulcastURL:  session.Credentials.IngestURL,
		SimulcastKey:  session.Credentials.IngestKey,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to create bridge, primary ingest stays usable")
		return dto.BridgeCredentials{}, providerError("create bridge", err)
	}

	record := &entities.BridgeSession{
		StreamSessionID:        sessionID,
		BridgeProviderStreamID: stream.ID,
		BridgeIngestKey:        stream.StreamKey,
		BridgeIngestURL:        stream.IngestURL,
		PlaybackID:             stream.PlaybackID,
		Status:                 constant.BridgeStatusReady,
	}
	if existing != nil {
		record.CreatedAt = existing.CreatedAt
	}
	if err := b.deps.Store.SaveBridge(ctx, record); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("bridge_stream_id", stream.ID).Msg("failed to save bridge")
		return dto.BridgeCredentials{}, storeError("save bridge", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionID.String()).
		Str("bridge_stream_id", stream.ID).
		Msg("bridge created")
	return bridgeCredentials(record), nil
}

func (b *bridgeManager) GetBridgeStatus(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (dto.BridgeStatusResponse, error) {
	if err := b.authorize(ctx, actor, sessionID, constant.ActionRead); err != nil {
		return dto.BridgeStatusResponse{}, err
	}
	local, err := b.deps.Store.GetBridge(ctx, sessionID)
	if err != nil {
		return dto.BridgeStatusResponse{}, storeError("get bridge", err)
	}
	if b.deps.Bridge == nil {
		return bridgeStatus(local, "", false), nil
	}

	providerCtx, cancel := b.providerContext(ctx)
	stream, err := b.deps.Bridge.GetLiveStream(providerCtx, local.BridgeProviderStreamID)
	cancel()
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID.String()).Msg("bridge provider unreachable, reporting stored status")
		return bridgeStatus(local, "", false), nil
	}

	event, ok := bridgeEventForStatus(stream.Status)
	if !ok {
		return bridgeStatus(local, stream.Status, true), nil
	}
	updated, _, err := b.applyBridgeEvent(ctx, sessionID, local.BridgeProviderStreamID, event)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to apply bridge status")
		return bridgeStatus(local, stream.Status, true), nil
	}
	return bridgeStatus(updated, stream.Status, true), nil
}

func (b *bridgeManager) StopBridge(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.BridgeSession, error) {
	if err := b.authorize(ctx, actor, sessionID, constant.ActionEdit); err != nil {
		return nil, err
	}

	release, err := b.deps.Locker.Lock(ctx, bridgeKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("lock bridge %s: %w", sessionID, err)
	}
	defer release()

	current, err := b.deps.Store.GetBridge(ctx, sessionID)
	if err != nil {
		return nil, storeError("get bridge", err)
	}
	if current.Status == constant.BridgeStatusCompleted {
		return current, nil
	}

	var lastError string
	if b.deps.Bridge != nil {
		providerCtx, cancel := b.providerContext(ctx)
		err := b.deps.Bridge.SignalComplete(providerCtx, current.BridgeProviderStreamID)
		cancel()
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to signal bridge completion")
			lastError = err.Error()
		}
	}

	updated, _, err := b.transitionBridgeLocked(ctx, current, BridgeEventStop, lastError)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func bridgeEventForStatus(status string) (BridgeEvent, bool) {
	switch status {
	case bridge.StatusActive:
		return BridgeEventWentLive, true
	case bridge.StatusIdle, bridge.StatusDisabled:
		return BridgeEventWentIdle, true
	default:
		return "", false
	}
}

func bridgeCredentials(b *entities.BridgeSession) dto.BridgeCredentials {
	return dto.BridgeCredentials{
		StreamSessionID: b.StreamSessionID,
		StreamID:        b.BridgeProviderStreamID,
		IngestURL:       b.BridgeIngestURL,
		IngestKey:       b.BridgeIngestKey,
		PlaybackID:      b.PlaybackID,
		Status:          b.Status,
	}
}

func bridgeStatus(b *entities.BridgeSession, providerStatus string, reachable bool) dto.BridgeStatusResponse {
	return dto.BridgeStatusResponse{
		StreamSessionID:   b.StreamSessionID,
		Status:            b.Status,
		ProviderStatus:    providerStatus,
		ProviderReachable: reachable,
		StartedAt:         b.StartedAt,
		CompletedAt:       b.CompletedAt,
		LastError:         b.LastError,
	}
}
