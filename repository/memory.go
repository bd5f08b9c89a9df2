package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"stream-orchestrator/constant"
	"stream-orchestrator/entities"
)

// MemoryStore is a concurrency-safe in-memory SessionStore. It honours the
// same column-level update contract as the gorm repository and is used when
// no database is configured and as the store double in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]*entities.StreamSession
	recordings map[uuid.UUID][]entities.RecordingSession
	bridges    map[uuid.UUID]*entities.BridgeSession

	// writes counts successful mutations; tests use it to assert write-skips.
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[uuid.UUID]*entities.StreamSession),
		recordings: make(map[uuid.UUID][]entities.RecordingSession),
		bridges:    make(map[uuid.UUID]*entities.BridgeSession),
	}
}

// Writes returns the number of mutations applied so far.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *entities.StreamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	if session.HasIngest() {
		if _, taken := m.findByIngestLocked(*session.ProviderIngestID); taken {
			return fmt.Errorf("provider ingest %s already assigned", *session.ProviderIngestID)
		}
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = constant.SessionStatusReady
	}

	stored := *session
	stored.RecordingSessions = nil
	m.sessions[session.ID] = &stored
	m.writes++
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*entities.StreamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.snapshotLocked(session), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	if err := checkColumns(fields, updatableColumns); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	updated := *session
	for column, value := range fields {
		if err := applySessionField(&updated, column, value); err != nil {
			return err
		}
	}
	if updated.HasIngest() {
		if owner, taken := m.findByIngestLocked(*updated.ProviderIngestID); taken && owner != id {
			return fmt.Errorf("provider ingest %s already assigned", *updated.ProviderIngestID)
		}
	}
	if _, explicit := fields[entities.ColUpdatedAt]; !explicit {
		updated.UpdatedAt = time.Now().UTC()
	}
	m.sessions[id] = &updated
	m.writes++
	return nil
}

func (m *MemoryStore) FindSessions(ctx context.Context, column string, value interface{}) ([]*entities.StreamSession, error) {
	if !queryableColumns[column] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	want := fmt.Sprint(deref(value))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*entities.StreamSession
	for _, session := range m.sessions {
		var got string
		switch column {
		case entities.ColProviderIngestID:
			got = fmt.Sprint(deref(session.ProviderIngestID))
		case entities.ColParentResourceID:
			got = fmt.Sprint(deref(session.ParentResourceID))
		case entities.ColStatus:
			got = string(session.Status)
		case entities.ColCreatedBy:
			got = session.CreatedBy
		}
		if got == want {
			out = append(out, m.snapshotLocked(session))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) ListSessionsByStatus(ctx context.Context, statuses ...constant.SessionStatus) ([]*entities.StreamSession, error) {
	wanted := make(map[constant.SessionStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*entities.StreamSession
	for _, session := range m.sessions {
		if wanted[session.Status] {
			out = append(out, m.snapshotLocked(session))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) UpsertRecording(ctx context.Context, streamSessionID uuid.UUID, recording entities.RecordingSession) (*entities.RecordingSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[streamSessionID]; !ok {
		return nil, false, ErrNotFound
	}

	now := time.Now().UTC()
	list := m.recordings[streamSessionID]
	for i := range list {
		if list[i].ProviderAssetID != recording.ProviderAssetID {
			continue
		}
		list[i].Status = recording.Status
		list[i].DurationSeconds = recording.DurationSeconds
		list[i].RecordingURL = recording.RecordingURL
		list[i].PlaybackURL = recording.PlaybackURL
		list[i].StartTime = recording.StartTime
		list[i].EndTime = recording.EndTime
		list[i].UpdatedAt = now
		m.writes++
		stored := list[i]
		return &stored, false, nil
	}

	recording.SessionID = uuid.New()
	recording.StreamSessionID = streamSessionID
	recording.Position = len(list)
	recording.CreatedAt = now
	recording.UpdatedAt = now
	m.recordings[streamSessionID] = append(list, recording)
	m.writes++
	return &recording, true, nil
}

func (m *MemoryStore) FindRecordingByAsset(ctx context.Context, assetID string) (*entities.RecordingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, list := range m.recordings {
		for _, recording := range list {
			if recording.ProviderAssetID == assetID {
				found := recording
				return &found, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetBridge(ctx context.Context, streamSessionID uuid.UUID) (*entities.BridgeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bridge, ok := m.bridges[streamSessionID]
	if !ok {
		return nil, ErrNotFound
	}
	found := *bridge
	return &found, nil
}

func (m *MemoryStore) SaveBridge(ctx context.Context, bridge *entities.BridgeSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[bridge.StreamSessionID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	if bridge.CreatedAt.IsZero() {
		bridge.CreatedAt = now
	}
	bridge.UpdatedAt = now
	stored := *bridge
	m.bridges[bridge.StreamSessionID] = &stored
	m.writes++
	return nil
}

func (m *MemoryStore) UpdateBridge(ctx context.Context, streamSessionID uuid.UUID, fields map[string]interface{}) error {
	if err := checkColumns(fields, updatableBridgeColumns); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bridge, ok := m.bridges[streamSessionID]
	if !ok {
		return ErrNotFound
	}
	updated := *bridge
	for column, value := range fields {
		switch column {
		case entities.ColBridgeStatus:
			status, err := asBridgeStatus(value)
			if err != nil {
				return err
			}
			updated.Status = status
		case entities.ColBridgeStartedAt:
			updated.StartedAt = asTimePtr(value)
		case entities.ColBridgeCompletedAt:
			updated.CompletedAt = asTimePtr(value)
		case entities.ColBridgeLastError:
			updated.LastError = fmt.Sprint(deref(value))
		}
	}
	updated.UpdatedAt = time.Now().UTC()
	m.bridges[streamSessionID] = &updated
	m.writes++
	return nil
}

func (m *MemoryStore) FindBridgeByProviderStream(ctx context.Context, providerStreamID string) (*entities.BridgeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, bridge := range m.bridges {
		if bridge.BridgeProviderStreamID == providerStreamID {
			found := *bridge
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// snapshotLocked returns a deep copy so callers never alias store state.
// Caller must hold m.mu.
func (m *MemoryStore) snapshotLocked(session *entities.StreamSession) *entities.StreamSession {
	out := *session
	list := m.recordings[session.ID]
	out.RecordingSessions = make([]entities.RecordingSession, len(list))
	copy(out.RecordingSessions, list)
	return &out
}

func (m *MemoryStore) findByIngestLocked(ingestID string) (uuid.UUID, bool) {
	for id, session := range m.sessions {
		if session.HasIngest() && *session.ProviderIngestID == ingestID {
			return id, true
		}
	}
	return uuid.Nil, false
}

func applySessionField(s *entities.StreamSession, column string, value interface{}) error {
	switch column {
	case entities.ColStatus:
		switch v := value.(type) {
		case constant.SessionStatus:
			s.Status = v
		case string:
			s.Status = constant.SessionStatus(v)
		default:
			return fmt.Errorf("status: unexpected type %T", value)
		}
	case entities.ColProviderIngestID:
		if v := deref(value); v != nil {
			id := fmt.Sprint(v)
			s.ProviderIngestID = &id
		} else {
			s.ProviderIngestID = nil
		}
	case entities.ColIngestURL:
		s.Credentials.IngestURL = fmt.Sprint(deref(value))
	case entities.ColIngestKey:
		s.Credentials.IngestKey = fmt.Sprint(deref(value))
	case entities.ColWHIPEndpoint:
		s.Credentials.WHIPEndpoint = fmt.Sprint(deref(value))
	case entities.ColPlaybackURL:
		s.Credentials.PlaybackURL = fmt.Sprint(deref(value))
	case entities.ColActualStartTime:
		s.ActualStartTime = asTimePtr(value)
	case entities.ColEndTime:
		s.EndTime = asTimePtr(value)
	case entities.ColStopRequestedAt:
		s.StopRequestedAt = asTimePtr(value)
	case entities.ColProviderConnected:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("provider_connected: unexpected type %T", value)
		}
		s.ProviderConnected = v
	case entities.ColLastProviderEvent:
		s.LastProviderEvent = fmt.Sprint(deref(value))
	case entities.ColLastProviderEventAt:
		s.LastProviderEventAt = asTimePtr(value)
	case entities.ColRecordingsCheckedAt:
		s.RecordingsCheckedAt = asTimePtr(value)
	case entities.ColLastError:
		s.LastError = fmt.Sprint(deref(value))
	case entities.ColUpdatedAt:
		if t := asTimePtr(value); t != nil {
			s.UpdatedAt = *t
		}
	}
	return nil
}

func asBridgeStatus(value interface{}) (constant.BridgeStatus, error) {
	switch v := value.(type) {
	case constant.BridgeStatus:
		return v, nil
	case string:
		return constant.BridgeStatus(v), nil
	default:
		return "", fmt.Errorf("bridge status: unexpected type %T", value)
	}
}

func asTimePtr(value interface{}) *time.Time {
	switch v := value.(type) {
	case time.Time:
		return &v
	case *time.Time:
		if v == nil {
			return nil
		}
		t := *v
		return &t
	default:
		return nil
	}
}

// deref unwraps string pointers so pointer and value arguments compare alike.
func deref(value interface{}) interface{} {
	if p, ok := value.(*string); ok {
		if p == nil {
			return nil
		}
		return *p
	}
	return value
}

func sortByCreation(sessions []*entities.StreamSession) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID.String() < sessions[j].ID.String()
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
