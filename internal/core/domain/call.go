package domain

import "time"

type CallID string

type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// CallState is the 1:1 call lifecycle. Idle is both the initial state
// and the state after any call fully resolves.
type CallState string

const (
	CallIdle       CallState = "idle"
	CallInitiating CallState = "initiating"
	CallRinging    CallState = "ringing"
	CallConnecting CallState = "connecting"
	CallConnected  CallState = "connected"
	CallEnded      CallState = "ended"
	CallFailed     CallState = "failed"
)

// CallEndReason names why a call resolved back to idle.
type CallEndReason string

const (
	CallEndedNormally CallEndReason = "ended"
	CallDeclined      CallEndReason = "declined"
	CallCancelled     CallEndReason = "cancelled"
	CallFailure       CallEndReason = "failed"
)

// Call is a 1:1 session, distinct from Session. Created on dial and
// destroyed on any terminal transition.
type Call struct {
	ID        CallID
	RoomID    RoomID
	CallerID  UserID
	CalleeID  UserID
	Kind      CallKind
	Status    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is computed, not stored; zero until the call has ended.
func (c *Call) Duration() time.Duration {
	if c == nil || c.StartedAt.IsZero() || c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.StartedAt)
}
