package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"stream-orchestrator/constant"
	"stream-orchestrator/dto"
	"stream-orchestrator/entities"
)

// SessionService is the command surface for stream sessions.
type SessionService interface {
	Create(ctx context.Context, actor dto.Actor, req dto.CreateSessionRequest) (*entities.StreamSession, error)
	Get(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error)
	// Start provisions the ingest if needed and moves the session to live.
	// Starting a live session returns it unchanged.
	Start(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error)
	// GetCredentials provisions the ingest if needed and never changes status.
	GetCredentials(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error)
	Stop(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error)
	Status(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error)
	SyncRecordings(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error)
}

type sessionService struct {
	*core
	reconciler *reconciler
}

func (s *sessionService) Create(ctx context.Context, actor dto.Actor, req dto.CreateSessionRequest) (*entities.StreamSession, error) {
	if actor.ID == "" || actor.Role == constant.RoleViewer {
		return nil, fmt.Errorf("create session: %w", ErrPermissionDenied)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("create session: title is required: %w", ErrInvalidInput)
	}

	session := &entities.StreamSession{
		Title:              title,
		Description:        req.Description,
		ParentResourceID:   req.ParentResourceID,
		Status:             constant.SessionStatusReady,
		ScheduledStartTime: req.ScheduledStartTime,
		Visibility: entities.Visibility{
			IsVisible: true,
			IsPublic:  req.IsPublic,
		},
		CreatedBy: actor.ID,
	}
	if req.IsVisible != nil {
		session.Visibility.IsVisible = *req.IsVisible
	}
	if req.ScheduledStartTime != nil && req.ScheduledStartTime.After(s.now()) {
		session.Status = constant.SessionStatusScheduled
	}

	if err := s.deps.Store.CreateSession(ctx, session); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create session")
		return nil, fmt.Errorf("create session: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("session_id", session.ID.String()).
		Str("status", session.Status.String()).
		Msg("session created")
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error) {
	if err := s.authorize(ctx, actor, sessionID, constant.ActionRead); err != nil {
		return nil, err
	}
	session, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	return session, nil
}

func (s *sessionService) Start(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error) {
	if err := s.authorize(ctx, actor, sessionID, constant.ActionEdit); err != nil {
		return nil, err
	}

	release, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer release()

	session, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}

	status := session.Status
	var steps []transitionStep
	fields := make(map[string]interface{})

	if outcome := Transition(status, EventManualRetry, session.ProviderConnected); outcome.Changed {
		steps = append(steps, transitionStep{from: status, to: outcome.Next, event: EventManualRetry})
		status = outcome.Next
		fields[entities.ColLastError] = ""
		fields[entities.ColEndTime] = nil
		fields[entities.ColStopRequestedAt] = nil
	}

	ingestFields, err := s.ensureIngestLocked(ctx, session)
	if err != nil {
		return nil, err
	}
	for column, value := range ingestFields {
		fields[column] = value
	}

	outcome := Transition(status, EventExplicitStart, session.ProviderConnected)
	if outcome.Changed {
		fields[entities.ColActualStartTime] = s.now()
		steps = append(steps, transitionStep{from: status, to: outcome.Next, event: EventExplicitStart})
		status = outcome.Next
	}
	if status != session.Status {
		fields[entities.ColStatus] = status
	}

	if len(fields) == 0 {
		zerolog.Ctx(ctx).Debug().Str("session_id", sessionID.String()).Str("status", status.String()).Msg("start is a no-op")
		return session, nil
	}
	if err := s.deps.Store.UpdateSession(ctx, sessionID, fields); err != nil {
		return nil, storeError("update session", err)
	}
	for _, step := range steps {
		s.announce(ctx, sessionID, step.from, step.to, step.event, sourceCommand)
	}
	return s.reload(ctx, sessionID)
}

func (s *sessionService) GetCredentials(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error) {
	if err := s.authorize(ctx, actor, sessionID, constant.ActionRead); err != nil {
		return nil, err
	}
	return s.provisionIngest(ctx, sessionID)
}

// provisionIngest returns the session with an ingest, creating one if
// needed. Concurrent callers for the same session share one creation.
func (c *core) provisionIngest(ctx context.Context, sessionID uuid.UUID) (*entities.StreamSession, error) {
	session, err := c.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	if session.HasIngest() {
		return session, nil
	}

	v, err, shared := c.ingests.Do(sessionID.String(), func() (interface{}, error) {
		// Joined callers share this run, so it must not die with the first
		// caller's request. The provider call is still bounded by its timeout.
		flightCtx := context.WithoutCancel(ctx)
		release, err := c.lockSession(flightCtx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("lock session %s: %w", sessionID, err)
		}
		defer release()

		session, err := c.deps.Store.GetSession(flightCtx, sessionID)
		if err != nil {
			return nil, storeError("get session", err)
		}
		fields, err := c.ensureIngestLocked(flightCtx, session)
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			if err := c.deps.Store.UpdateSession(flightCtx, sessionID, fields); err != nil {
				return nil, storeError("update session", err)
			}
		}
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		zerolog.Ctx(ctx).Debug().Str("session_id", sessionID.String()).Msg("joined in-flight ingest creation")
	}
	out := *v.(*entities.StreamSession)
	return &out, nil
}

func (s *sessionService) Stop(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error) {
	if err := s.authorize(ctx, actor, sessionID, constant.ActionEdit); err != nil {
		return nil, err
	}

	release, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer release()

	session, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	if !session.HasIngest() {
		zerolog.Ctx(ctx).Info().Str("session_id", sessionID.String()).Msg("stop without active ingest")
		return session, nil
	}

	outcome := Transition(session.Status, EventExplicitStop, session.ProviderConnected)
	if !outcome.Changed {
		return session, nil
	}

	now := s.now()
	fields := map[string]interface{}{
		entities.ColStatus:          outcome.Next,
		entities.ColStopRequestedAt: now,
	}
	if session.EndTime == nil {
		fields[entities.ColEndTime] = now
	}
	if err := s.deps.Store.UpdateSession(ctx, sessionID, fields); err != nil {
		return nil, storeError("update session", err)
	}
	s.announce(ctx, sessionID, session.Status, outcome.Next, EventExplicitStop, sourceCommand)

	updated, err := s.reload(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	release()

	providerCtx, cancel := s.providerContext(ctx)
	defer cancel()
	if err := s.deps.Primary.SignalComplete(providerCtx, *session.ProviderIngestID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to signal ingest completion")
	}
	return updated, nil
}

func (s *sessionService) Status(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error) {
	if err := s.authorize(ctx, actor, sessionID, constant.ActionRead); err != nil {
		return nil, err
	}
	return s.reconciler.Poll(ctx, sessionID, PollOptions{})
}

func (s *sessionService) SyncRecordings(ctx context.Context, sessionID uuid.UUID, actor dto.Actor) (*entities.StreamSession, error) {
	if err := s.authorize(ctx, actor, sessionID, constant.ActionRead); err != nil {
		return nil, err
	}
	return s.reconciler.Poll(ctx, sessionID, PollOptions{Surface: true})
}

func (c *core) reload(ctx context.Context, sessionID uuid.UUID) (*entities.StreamSession, error) {
	session, err := c.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	return session, nil
}
