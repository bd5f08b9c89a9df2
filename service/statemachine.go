package service

import (
	"time"

	"stream-orchestrator/constant"
)

// SessionEvent is the closed vocabulary every input (commands, webhooks,
// polls) is translated into before it can change a session's status.
type SessionEvent string

const (
	EventExplicitStart        SessionEvent = "explicit_start"
	EventExplicitStop         SessionEvent = "explicit_stop"
	EventProviderConnected    SessionEvent = "provider_connected"
	EventProviderDisconnected SessionEvent = "provider_disconnected"
	EventRecordingReady       SessionEvent = "recording_ready"
	EventScheduleElapsed      SessionEvent = "schedule_elapsed"
	EventProviderError        SessionEvent = "provider_error"
	EventManualRetry          SessionEvent = "manual_retry"
)

var sessionEvents = []SessionEvent{
	EventExplicitStart,
	EventExplicitStop,
	EventProviderConnected,
	EventProviderDisconnected,
	EventRecordingReady,
	EventScheduleElapsed,
	EventProviderError,
	EventManualRetry,
}

var sessionStatuses = []constant.SessionStatus{
	constant.SessionStatusReady,
	constant.SessionStatusScheduled,
	constant.SessionStatusLive,
	constant.SessionStatusEnding,
	constant.SessionStatusCompleted,
	constant.SessionStatusError,
}

// Outcome is the result of feeding one event to the state machine. A
// NoChange outcome has Changed false and Next equal to the input status.
type Outcome struct {
	Next           constant.SessionStatus
	Changed        bool
	SetActualStart bool
	SetEndTime     bool
}

func noChange(current constant.SessionStatus) Outcome {
	return Outcome{Next: current}
}

// Transition evaluates the session transition table. providerConnected is
// the last accepted connectivity fact; while it is true a recording can not
// complete the session.
func Transition(current constant.SessionStatus, event SessionEvent, providerConnected bool) Outcome {
	switch event {
	case EventExplicitStart, EventProviderConnected:
		if current == constant.SessionStatusReady || current == constant.SessionStatusScheduled {
			return Outcome{Next: constant.SessionStatusLive, Changed: true, SetActualStart: true}
		}
	case EventProviderDisconnected, EventExplicitStop:
		if current == constant.SessionStatusLive {
			return Outcome{Next: constant.SessionStatusEnding, Changed: true, SetEndTime: true}
		}
	case EventRecordingReady:
		if providerConnected {
			break
		}
		if current == constant.SessionStatusEnding || current == constant.SessionStatusLive {
			return Outcome{Next: constant.SessionStatusCompleted, Changed: true, SetEndTime: current == constant.SessionStatusLive}
		}
	case EventProviderError:
		if current != constant.SessionStatusError {
			return Outcome{Next: constant.SessionStatusError, Changed: true}
		}
	case EventManualRetry:
		if current == constant.SessionStatusError {
			return Outcome{Next: constant.SessionStatusReady, Changed: true}
		}
	}
	return noChange(current)
}

// eventRank orders provider events reported at the same instant: the one
// implying an active broadcast wins.
func eventRank(event SessionEvent) int {
	switch event {
	case EventProviderConnected:
		return 3
	case EventProviderDisconnected:
		return 2
	case EventRecordingReady:
		return 1
	default:
		return 0
	}
}

// Stale reports whether a provider event reported at `at` is superseded by
// the last accepted provider event. Events without a provider timestamp are
// never stale.
func Stale(lastEvent SessionEvent, lastAt *time.Time, event SessionEvent, at time.Time) bool {
	if at.IsZero() || lastAt == nil || lastAt.IsZero() {
		return false
	}
	if at.Before(*lastAt) {
		return true
	}
	if at.Equal(*lastAt) {
		return eventRank(event) < eventRank(lastEvent)
	}
	return false
}
