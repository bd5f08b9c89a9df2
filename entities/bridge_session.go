package entities

import (
	"time"

	"github.com/google/uuid"
	"stream-orchestrator/constant"
)

const (
	ColBridgeStatus      = "status"
	ColBridgeStartedAt   = "started_at"
	ColBridgeCompletedAt = "completed_at"
	ColBridgeLastError   = "last_error"
	ColBridgeStreamID    = "bridge_provider_stream_id"
)

type BridgeSession struct {
	StreamSessionID        uuid.UUID             `json:"streamSessionId" gorm:"type:uuid;primary_key"`
	BridgeProviderStreamID string                `json:"bridgeProviderStreamId" gorm:"type:varchar(255);not null;uniqueIndex:idx_bridge_sessions_stream"`
	BridgeIngestKey        string                `json:"bridgeIngestKey" gorm:"type:varchar(255);not null"`
	BridgeIngestURL        string                `json:"bridgeIngestUrl" gorm:"type:varchar(500)"`
	PlaybackID             string                `json:"playbackId" gorm:"type:varchar(255)"`
	Status                 constant.BridgeStatus `json:"status" gorm:"type:varchar(20);not null;default:'ready'"`
	StartedAt              *time.Time            `json:"startedAt" gorm:"type:timestamptz"`
	CompletedAt            *time.Time            `json:"completedAt" gorm:"type:timestamptz"`
	LastError              string                `json:"lastError,omitempty" gorm:"type:text"`
	CreatedAt              time.Time             `json:"createdAt" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time             `json:"updatedAt" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (BridgeSession) TableName() string {
	return "bridge_sessions"
}

// Reusable reports whether the bridge can be handed out again instead of
// provisioning a second provider stream.
func (b *BridgeSession) Reusable() bool {
	return b.Status != constant.BridgeStatusCompleted
}
