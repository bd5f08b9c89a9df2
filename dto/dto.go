package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"stream-orchestrator/constant"
	"stream-orchestrator/entities"
)

// Actor is the caller identity resolved by the gateway in front of the API.
type Actor struct {
	ID   string        `json:"id"`
	Role constant.Role `json:"role"`
}

// WebhookMessage is a provider notification normalized for the queue.
type WebhookMessage struct {
	Provider         constant.Provider `json:"provider"`
	ProviderObjectID string            `json:"providerObjectId"`
	EventType        string            `json:"eventType"`
	Payload          json.RawMessage   `json:"payload,omitempty"`
	ReceivedAt       time.Time         `json:"receivedAt"`
}

type CreateSessionRequest struct {
	Title              string     `json:"title" binding:"required,max=255"`
	Description        string     `json:"description"`
	ParentResourceID   *string    `json:"parentResourceId"`
	ScheduledStartTime *time.Time `json:"scheduledStartTime"`
	IsVisible          *bool      `json:"isVisible"`
	IsPublic           bool       `json:"isPublic"`
}

type CredentialsResponse struct {
	SessionID   uuid.UUID              `json:"sessionId"`
	Status      constant.SessionStatus `json:"status"`
	Credentials entities.Credentials   `json:"credentials"`
}

type StatusResponse struct {
	SessionID         uuid.UUID                   `json:"sessionId"`
	Status            constant.SessionStatus      `json:"status"`
	ProviderConnected bool                        `json:"providerConnected"`
	ActualStartTime   *time.Time                  `json:"actualStartTime"`
	EndTime           *time.Time                  `json:"endTime"`
	RecordingsChecked bool                        `json:"recordingsChecked"`
	Recordings        []entities.RecordingSession `json:"recordings"`
}

type RecordingsResponse struct {
	SessionID  uuid.UUID                   `json:"sessionId"`
	Status     constant.SessionStatus      `json:"status"`
	Recordings []entities.RecordingSession `json:"recordings"`
}

type BridgeCredentials struct {
	StreamSessionID uuid.UUID             `json:"streamSessionId"`
	StreamID        string                `json:"streamId"`
	IngestURL       string                `json:"ingestUrl"`
	IngestKey       string                `json:"ingestKey"`
	PlaybackID      string                `json:"playbackId,omitempty"`
	Status          constant.BridgeStatus `json:"status"`
	Reused          bool                  `json:"reused"`
}

type BridgeStatusResponse struct {
	StreamSessionID   uuid.UUID             `json:"streamSessionId"`
	Status            constant.BridgeStatus `json:"status"`
	ProviderStatus    string                `json:"providerStatus,omitempty"`
	ProviderReachable bool                  `json:"providerReachable"`
	StartedAt         *time.Time            `json:"startedAt"`
	CompletedAt       *time.Time            `json:"completedAt"`
	LastError         string                `json:"lastError,omitempty"`
}

// TransitionNotice announces a persisted session status change.
type TransitionNotice struct {
	SessionID uuid.UUID              `json:"sessionId"`
	From      constant.SessionStatus `json:"from"`
	To        constant.SessionStatus `json:"to"`
	Event     string                 `json:"event"`
	Source    string                 `json:"source"`
	At        time.Time              `json:"at"`
}

// RecordingManifest is the archived summary of a completed session.
type RecordingManifest struct {
	SessionID   uuid.UUID                   `json:"sessionId"`
	Title       string                      `json:"title"`
	StartTime   *time.Time                  `json:"startTime"`
	EndTime     *time.Time                  `json:"endTime"`
	Recordings  []entities.RecordingSession `json:"recordings"`
	GeneratedAt time.Time                   `json:"generatedAt"`
}
