package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"stream-orchestrator/constant"
	"stream-orchestrator/entities"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUnknownColumn = errors.New("unknown column")
)

// SessionStore persists stream sessions, their recordings and the optional
// bridge companion. Updates are column-level so concurrent writers touching
// different fields never clobber each other.
type SessionStore interface {
	CreateSession(ctx context.Context, session *entities.StreamSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*entities.StreamSession, error)
	UpdateSession(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	FindSessions(ctx context.Context, column string, value interface{}) ([]*entities.StreamSession, error)
	ListSessionsByStatus(ctx context.Context, statuses ...constant.SessionStatus) ([]*entities.StreamSession, error)

	UpsertRecording(ctx context.Context, streamSessionID uuid.UUID, recording entities.RecordingSession) (*entities.RecordingSession, bool, error)
	FindRecordingByAsset(ctx context.Context, assetID string) (*entities.RecordingSession, error)

	GetBridge(ctx context.Context, streamSessionID uuid.UUID) (*entities.BridgeSession, error)
	SaveBridge(ctx context.Context, bridge *entities.BridgeSession) error
	UpdateBridge(ctx context.Context, streamSessionID uuid.UUID, fields map[string]interface{}) error
	FindBridgeByProviderStream(ctx context.Context, providerStreamID string) (*entities.BridgeSession, error)
}

// queryableColumns are the session columns FindSessions accepts.
var queryableColumns = map[string]bool{
	entities.ColProviderIngestID: true,
	entities.ColParentResourceID: true,
	entities.ColStatus:           true,
	entities.ColCreatedBy:        true,
}

// updatableColumns are the session columns UpdateSession accepts.
var updatableColumns = map[string]bool{
	entities.ColStatus:              true,
	entities.ColProviderIngestID:    true,
	entities.ColIngestURL:           true,
	entities.ColIngestKey:           true,
	entities.ColWHIPEndpoint:        true,
	entities.ColPlaybackURL:         true,
	entities.ColActualStartTime:     true,
	entities.ColEndTime:             true,
	entities.ColStopRequestedAt:     true,
	entities.ColProviderConnected:   true,
	entities.ColLastProviderEvent:   true,
	entities.ColLastProviderEventAt: true,
	entities.ColRecordingsCheckedAt: true,
	entities.ColLastError:           true,
	entities.ColUpdatedAt:           true,
}

var updatableBridgeColumns = map[string]bool{
	entities.ColBridgeStatus:      true,
	entities.ColBridgeStartedAt:   true,
	entities.ColBridgeCompletedAt: true,
	entities.ColBridgeLastError:   true,
}

func checkColumns(fields map[string]interface{}, allowed map[string]bool) error {
	for column := range fields {
		if !allowed[column] {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
		}
	}
	return nil
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (SessionStore, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

// Migrate creates or updates the orchestrator tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).AutoMigrate(
		&entities.StreamSession{},
		&entities.RecordingSession{},
		&entities.BridgeSession{},
	)
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) CreateSession(ctx context.Context, session *entities.StreamSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.GetDB().WithContext(ctx).Omit("RecordingSessions").Create(session).Error
}

func (r *repo) GetSession(ctx context.Context, id uuid.UUID) (*entities.StreamSession, error) {
	session := &entities.StreamSession{}
	err := r.withRecordings(ctx).First(session, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return session, nil
}

func (r *repo) UpdateSession(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	if err := checkColumns(fields, updatableColumns); err != nil {
		return err
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates[entities.ColUpdatedAt] = time.Now().UTC()

	result := r.GetDB().WithContext(ctx).Model(&entities.StreamSession{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) FindSessions(ctx context.Context, column string, value interface{}) ([]*entities.StreamSession, error) {
	if !queryableColumns[column] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	var sessions []*entities.StreamSession
	err := r.withRecordings(ctx).
		Where(clause.Eq{Column: clause.Column{Name: column}, Value: value}).
		Order("created_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) ListSessionsByStatus(ctx context.Context, statuses ...constant.SessionStatus) ([]*entities.StreamSession, error) {
	var sessions []*entities.StreamSession
	err := r.withRecordings(ctx).Where("status IN ?", statuses).Order("created_at ASC").Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) UpsertRecording(ctx context.Context, streamSessionID uuid.UUID, recording entities.RecordingSession) (*entities.RecordingSession, bool, error) {
	var (
		stored  entities.RecordingSession
		created bool
	)
	err := r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("stream_session_id = ? AND provider_asset_id = ?", streamSessionID, recording.ProviderAssetID).
			First(&stored).Error
		switch {
		case err == nil:
			updates := map[string]interface{}{
				"status":           recording.Status,
				"duration_seconds": recording.DurationSeconds,
				"recording_url":    recording.RecordingURL,
				"playback_url":     recording.PlaybackURL,
				"start_time":       recording.StartTime,
				"end_time":         recording.EndTime,
				"updated_at":       time.Now().UTC(),
			}
			if err := tx.Model(&stored).Updates(updates).Error; err != nil {
				return err
			}
			return tx.First(&stored, "id = ?", stored.SessionID).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			var count int64
			if err := tx.Model(&entities.RecordingSession{}).Where("stream_session_id = ?", streamSessionID).Count(&count).Error; err != nil {
				return err
			}
			recording.SessionID = uuid.New()
			recording.StreamSessionID = streamSessionID
			recording.Position = int(count)
			if err := tx.Create(&recording).Error; err != nil {
				return err
			}
			stored = recording
			created = true
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

func (r *repo) FindRecordingByAsset(ctx context.Context, assetID string) (*entities.RecordingSession, error) {
	recording := &entities.RecordingSession{}
	err := r.GetDB().WithContext(ctx).First(recording, "provider_asset_id = ?", assetID).Error
	if err != nil {
		return nil, translate(err)
	}
	return recording, nil
}

func (r *repo) GetBridge(ctx context.Context, streamSessionID uuid.UUID) (*entities.BridgeSession, error) {
	bridge := &entities.BridgeSession{}
	err := r.GetDB().WithContext(ctx).First(bridge, "stream_session_id = ?", streamSessionID).Error
	if err != nil {
		return nil, translate(err)
	}
	return bridge, nil
}

func (r *repo) SaveBridge(ctx context.Context, bridge *entities.BridgeSession) error {
	return r.GetDB().WithContext(ctx).Save(bridge).Error
}

func (r *repo) UpdateBridge(ctx context.Context, streamSessionID uuid.UUID, fields map[string]interface{}) error {
	if err := checkColumns(fields, updatableBridgeColumns); err != nil {
		return err
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["updated_at"] = time.Now().UTC()

	result := r.GetDB().WithContext(ctx).Model(&entities.BridgeSession{}).Where("stream_session_id = ?", streamSessionID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) FindBridgeByProviderStream(ctx context.Context, providerStreamID string) (*entities.BridgeSession, error) {
	bridge := &entities.BridgeSession{}
	err := r.GetDB().WithContext(ctx).First(bridge, "bridge_provider_stream_id = ?", providerStreamID).Error
	if err != nil {
		return nil, translate(err)
	}
	return bridge, nil
}

func (r *repo) withRecordings(ctx context.Context) *gorm.DB {
	return r.GetDB().WithContext(ctx).Preload("RecordingSessions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
