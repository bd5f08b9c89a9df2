package entities

import (
	"time"

	"github.com/google/uuid"
	"stream-orchestrator/constant"
)

type RecordingSession struct {
	SessionID       uuid.UUID                `json:"sessionId" gorm:"column:id;type:uuid;primary_key;default:gen_random_uuid()"`
	StreamSessionID uuid.UUID                `json:"-" gorm:"type:uuid;not null;uniqueIndex:idx_recording_sessions_asset,priority:1;index:idx_recording_sessions_stream"`
	ProviderAssetID string                   `json:"providerAssetId" gorm:"type:varchar(255);not null;uniqueIndex:idx_recording_sessions_asset,priority:2"`
	StartTime       *time.Time               `json:"startTime" gorm:"type:timestamptz"`
	EndTime         *time.Time               `json:"endTime" gorm:"type:timestamptz"`
	DurationSeconds float64                  `json:"durationSeconds" gorm:"type:double precision;not null;default:0"`
	Status          constant.RecordingStatus `json:"status" gorm:"type:varchar(20);not null;check:status IN ('processing', 'ready', 'errored')"`
	RecordingURL    string                   `json:"recordingUrl" gorm:"type:varchar(500)"`
	PlaybackURL     string                   `json:"playbackUrl" gorm:"type:varchar(500)"`
	Position        int                      `json:"-" gorm:"not null;default:0"`
	CreatedAt       time.Time                `json:"createdAt" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time                `json:"updatedAt" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (RecordingSession) TableName() string {
	return "recording_sessions"
}
