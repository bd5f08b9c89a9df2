package service

import "stream-orchestrator/constant"

// BridgeEvent drives the bridge lifecycle. It is deliberately separate from
// SessionEvent: the bridge never decides the session's status.
type BridgeEvent string

const (
	BridgeEventWentLive     BridgeEvent = "went_live"
	BridgeEventWentIdle     BridgeEvent = "went_idle"
	BridgeEventDisconnected BridgeEvent = "disconnected"
	BridgeEventStop         BridgeEvent = "stop"
)

// BridgeTransition returns the next bridge status and whether it changed.
// completed is terminal.
func BridgeTransition(current constant.BridgeStatus, event BridgeEvent) (constant.BridgeStatus, bool) {
	switch current {
	case constant.BridgeStatusReady:
		switch event {
		case BridgeEventWentLive:
			return constant.BridgeStatusActive, true
		case BridgeEventStop:
			return constant.BridgeStatusCompleted, true
		}
	case constant.BridgeStatusActive:
		switch event {
		case BridgeEventWentIdle, BridgeEventStop:
			return constant.BridgeStatusCompleted, true
		case BridgeEventDisconnected:
			return constant.BridgeStatusDisconnected, true
		}
	case constant.BridgeStatusDisconnected:
		switch event {
		case BridgeEventWentLive:
			return constant.BridgeStatusActive, true
		case BridgeEventWentIdle, BridgeEventStop:
			return constant.BridgeStatusCompleted, true
		}
	}
	return current, false
}
