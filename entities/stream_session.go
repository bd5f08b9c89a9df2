package entities

import (
	"time"

	"github.com/google/uuid"
	"stream-orchestrator/constant"
)

// Column names accepted by partial session updates.
const (
	ColStatus              = "status"
	ColProviderIngestID    = "provider_ingest_id"
	ColIngestURL           = "credential_ingest_url"
	ColIngestKey           = "credential_ingest_key"
	ColWHIPEndpoint        = "credential_whip_endpoint"
	ColPlaybackURL         = "credential_playback_url"
	ColActualStartTime     = "actual_start_time"
	ColEndTime             = "end_time"
	ColStopRequestedAt     = "stop_requested_at"
	ColProviderConnected   = "provider_connected"
	ColLastProviderEvent   = "last_provider_event"
	ColLastProviderEventAt = "last_provider_event_at"
	ColRecordingsCheckedAt = "recordings_checked_at"
	ColLastError           = "last_error"
	ColParentResourceID    = "parent_resource_id"
	ColCreatedBy           = "created_by"
	ColUpdatedAt           = "updated_at"
)

type Credentials struct {
	IngestURL    string `json:"ingestUrl" gorm:"type:varchar(500)"`
	IngestKey    string `json:"ingestKey" gorm:"type:varchar(500)"`
	WHIPEndpoint string `json:"whipEndpoint" gorm:"type:varchar(500)"`
	PlaybackURL  string `json:"playbackUrl" gorm:"type:varchar(500)"`
}

// Empty reports whether the provider has not issued credentials yet.
func (c Credentials) Empty() bool {
	return c.IngestURL == "" && c.IngestKey == "" && c.WHIPEndpoint == "" && c.PlaybackURL == ""
}

type Visibility struct {
	IsVisible bool `json:"isVisible" gorm:"not null;default:true"`
	IsPublic  bool `json:"isPublic" gorm:"not null;default:false"`
}

type StreamSession struct {
	ID                 uuid.UUID              `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title              string                 `json:"title" gorm:"type:varchar(255);not null"`
	Description        string                 `json:"description" gorm:"type:text"`
	ParentResourceID   *string                `json:"parentResourceId" gorm:"type:varchar(255);index:idx_stream_sessions_parent"`
	Status             constant.SessionStatus `json:"status" gorm:"type:varchar(20);not null;default:'ready';index:idx_stream_sessions_status"`
	ProviderIngestID   *string                `json:"providerIngestId" gorm:"type:varchar(255);uniqueIndex:idx_stream_sessions_ingest"`
	Credentials        Credentials            `json:"credentials" gorm:"embedded;embeddedPrefix:credential_"`
	ScheduledStartTime *time.Time             `json:"scheduledStartTime" gorm:"type:timestamptz"`
	ActualStartTime    *time.Time             `json:"actualStartTime" gorm:"type:timestamptz"`
	EndTime            *time.Time             `json:"endTime" gorm:"type:timestamptz"`
	Visibility         Visibility             `json:"visibility" gorm:"embedded;embeddedPrefix:visibility_"`
	CreatedBy          string                 `json:"createdBy" gorm:"type:varchar(255);not null;index:idx_stream_sessions_created_by"`
	CreatedAt          time.Time              `json:"createdAt" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time              `json:"updatedAt" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`

	// Reconciliation bookkeeping
	StopRequestedAt     *time.Time `json:"stopRequestedAt,omitempty" gorm:"type:timestamptz"`
	ProviderConnected   bool       `json:"providerConnected" gorm:"not null;default:false"`
	LastProviderEvent   string     `json:"lastProviderEvent,omitempty" gorm:"type:varchar(40)"`
	LastProviderEventAt *time.Time `json:"lastProviderEventAt,omitempty" gorm:"type:timestamptz"`
	RecordingsCheckedAt *time.Time `json:"recordingsCheckedAt,omitempty" gorm:"type:timestamptz"`
	LastError           string     `json:"lastError,omitempty" gorm:"type:text"`

	RecordingSessions []RecordingSession `json:"recordingSessions" gorm:"foreignKey:StreamSessionID;references:ID"`
}

func (StreamSession) TableName() string {
	return "stream_sessions"
}

// HasIngest reports whether the primary provider already issued a live input.
func (s *StreamSession) HasIngest() bool {
	return s.ProviderIngestID != nil && *s.ProviderIngestID != ""
}

// Recording returns the recording entry for a provider asset, if any.
func (s *StreamSession) Recording(assetID string) (*RecordingSession, bool) {
	for i := range s.RecordingSessions {
		if s.RecordingSessions[i].ProviderAssetID == assetID {
			return &s.RecordingSessions[i], true
		}
	}
	return nil, false
}
