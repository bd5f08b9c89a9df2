package constant

type SessionStatus string

const (
	SessionStatusReady     SessionStatus = "ready"
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusEnding    SessionStatus = "ending"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
)

func (s SessionStatus) String() string {
	return string(s)
}

type RecordingStatus string

const (
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusReady      RecordingStatus = "ready"
	RecordingStatusErrored    RecordingStatus = "errored"
)

type BridgeStatus string

const (
	BridgeStatusReady        BridgeStatus = "ready"
	BridgeStatusActive       BridgeStatus = "active"
	BridgeStatusDisconnected BridgeStatus = "disconnected"
	BridgeStatusCompleted    BridgeStatus = "completed"
)

type Provider string

const (
	ProviderPrimary Provider = "primary"
	ProviderBridge  Provider = "bridge"
)

type Action string

const (
	ActionRead Action = "read"
	ActionEdit Action = "edit"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
