package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"
	apperrors "liveroom/pkg/errors"
)

type callFixture struct {
	backend *fakeBackend
	ctrl    *CallController

	mu     sync.Mutex
	ended  []domain.CallEndReason
	failed []error
}

func newCallFixture(t *testing.T, identity domain.Identity, ringTimeout time.Duration) *callFixture {
	t.Helper()
	f := &callFixture{backend: newFakeBackend()}
	f.ctrl = NewCallController(
		f.backend, NopMetrics(), zaptest.NewLogger(t).Sugar(),
		identity, ringTimeout,
		CallCallbacks{
			OnCallEnded: func(reason domain.CallEndReason, _ time.Duration) {
				f.mu.Lock()
				f.ended = append(f.ended, reason)
				f.mu.Unlock()
			},
			OnCallFailed: func(err error) {
				f.mu.Lock()
				f.failed = append(f.failed, err)
				f.mu.Unlock()
			},
		},
	)
	t.Cleanup(f.ctrl.Close)
	return f
}

func (f *callFixture) endReasons() []domain.CallEndReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.CallEndReason, len(f.ended))
	copy(out, f.ended)
	return out
}

func ringingNotification(t *testing.T, callID, callerID, calleeID string) ports.Notification {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"callId":   callID,
		"roomId":   "callroom-" + callID,
		"callerId": callerID,
		"calleeId": calleeID,
		"kind":     string(domain.CallKindAudio),
	})
	require.NoError(t, err)
	return ports.Notification{Kind: ports.NotifyRinging, Payload: payload}
}

func statusNotification(t *testing.T, callID, status string) ports.Notification {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"callId": callID, "status": status})
	require.NoError(t, err)
	return ports.Notification{Kind: ports.NotifyCallStatus, Payload: payload}
}

func TestCallInitiateAndRemoteAccept(t *testing.T) {
	var connected atomic.Int64
	f := newCallFixture(t, domain.Identity{ID: "caller"}, time.Minute)
	f.ctrl.callbacks.OnCallConnected = func(domain.Call) { connected.Add(1) }

	call, err := f.ctrl.InitiateCall(context.Background(), "callee", domain.CallKindAudio)
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, domain.CallRinging, f.ctrl.State())
	assert.False(t, f.ctrl.IsIncoming())

	f.ctrl.HandleNotification(statusNotification(t, string(call.ID), "accepted"))
	assert.Equal(t, domain.CallConnected, f.ctrl.State())
	assert.Equal(t, int64(1), connected.Load())

	require.NoError(t, f.ctrl.EndCall(context.Background()))
	assert.Equal(t, domain.CallIdle, f.ctrl.State())
	assert.Nil(t, f.ctrl.ActiveCall())
	assert.Equal(t, []domain.CallEndReason{domain.CallEndedNormally}, f.endReasons())
	assert.Contains(t, f.backend.recordedCallStatuses(), "ended")
}

func TestCallInitiateWhileBusy(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "caller"}, time.Minute)

	_, err := f.ctrl.InitiateCall(context.Background(), "callee", domain.CallKindAudio)
	require.NoError(t, err)

	_, err = f.ctrl.InitiateCall(context.Background(), "other", domain.CallKindAudio)
	assert.ErrorIs(t, err, domain.ErrCallInProgress)
}

func TestCallInitiateBackendFailureReturnsToIdle(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "caller"}, time.Minute)
	f.backend.failCreateCall = assert.AnError

	_, err := f.ctrl.InitiateCall(context.Background(), "callee", domain.CallKindAudio)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeBackendRequest, apperrors.CodeOf(err))
	assert.Equal(t, domain.CallIdle, f.ctrl.State())

	// Idle again, so a new attempt is allowed.
	f.backend.failCreateCall = nil
	_, err = f.ctrl.InitiateCall(context.Background(), "callee", domain.CallKindAudio)
	assert.NoError(t, err)
}

func TestCallRingTimeoutCancelsExactlyOnce(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "caller"}, 30*time.Millisecond)

	call, err := f.ctrl.InitiateCall(context.Background(), "callee", domain.CallKindAudio)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.ctrl.State() == domain.CallIdle
	}, waitFor, tick)
	assert.Equal(t, []domain.CallEndReason{domain.CallCancelled}, f.endReasons())
	require.Eventually(t, func() bool {
		return len(f.backend.recordedCallStatuses()) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"cancelled"}, f.backend.recordedCallStatuses())

	// A late accept for the timed-out call is ignored.
	f.ctrl.HandleNotification(statusNotification(t, string(call.ID), "accepted"))
	assert.Equal(t, domain.CallIdle, f.ctrl.State())
	assert.Equal(t, []domain.CallEndReason{domain.CallCancelled}, f.endReasons())
}

func TestCallManualCancelBeatsRingTimer(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "caller"}, 50*time.Millisecond)

	_, err := f.ctrl.InitiateCall(context.Background(), "callee", domain.CallKindAudio)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.CancelCall(context.Background()))

	time.Sleep(100 * time.Millisecond)
	// The timer was stopped; the cancellation fires once, not twice.
	assert.Equal(t, []domain.CallEndReason{domain.CallCancelled}, f.endReasons())
}

func TestCallIncomingAcceptFlow(t *testing.T) {
	var incoming []domain.Call
	f := newCallFixture(t, domain.Identity{ID: "callee"}, time.Minute)
	f.ctrl.callbacks.OnIncomingCall = func(c domain.Call) { incoming = append(incoming, c) }

	f.ctrl.HandleNotification(ringingNotification(t, "c1", "caller", "callee"))
	require.Len(t, incoming, 1)
	assert.Equal(t, domain.CallRinging, f.ctrl.State())
	assert.True(t, f.ctrl.IsIncoming())

	require.NoError(t, f.ctrl.AcceptCall(context.Background()))
	assert.Equal(t, domain.CallConnected, f.ctrl.State())
	assert.Equal(t, []string{"accepted"}, f.backend.recordedCallStatuses())
}

func TestCallIncomingForAnotherCalleeIgnored(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "callee"}, time.Minute)

	f.ctrl.HandleNotification(ringingNotification(t, "c1", "caller", "somebody-else"))
	assert.Equal(t, domain.CallIdle, f.ctrl.State())
}

func TestCallIncomingWhileBusyIgnored(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "callee"}, time.Minute)

	f.ctrl.HandleNotification(ringingNotification(t, "c1", "caller", "callee"))
	f.ctrl.HandleNotification(ringingNotification(t, "c2", "another", "callee"))

	active := f.ctrl.ActiveCall()
	require.NotNil(t, active)
	assert.Equal(t, domain.CallID("c1"), active.ID)
}

func TestCallDeclineFlow(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "callee"}, time.Minute)

	f.ctrl.HandleNotification(ringingNotification(t, "c1", "caller", "callee"))
	require.NoError(t, f.ctrl.DeclineCall(context.Background()))

	assert.Equal(t, domain.CallIdle, f.ctrl.State())
	assert.Equal(t, []domain.CallEndReason{domain.CallDeclined}, f.endReasons())
	assert.Equal(t, []string{"declined"}, f.backend.recordedCallStatuses())
}

func TestCallRemoteCancelWhileRingingIncoming(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "callee"}, time.Minute)

	f.ctrl.HandleNotification(ringingNotification(t, "c1", "caller", "callee"))
	f.ctrl.HandleNotification(statusNotification(t, "c1", "cancelled"))

	assert.Equal(t, domain.CallIdle, f.ctrl.State())
	assert.Equal(t, []domain.CallEndReason{domain.CallCancelled}, f.endReasons())
}

func TestCallInvalidTransitionsReturnErrors(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "u1"}, time.Minute)

	assert.ErrorIs(t, f.ctrl.AcceptCall(context.Background()), domain.ErrInvalidCallState)
	assert.ErrorIs(t, f.ctrl.DeclineCall(context.Background()), domain.ErrInvalidCallState)
	assert.ErrorIs(t, f.ctrl.CancelCall(context.Background()), domain.ErrInvalidCallState)
	assert.ErrorIs(t, f.ctrl.EndCall(context.Background()), domain.ErrInvalidCallState)

	// Accept on an outgoing ringing call is equally invalid.
	_, err := f.ctrl.InitiateCall(context.Background(), "callee", domain.CallKindAudio)
	require.NoError(t, err)
	assert.ErrorIs(t, f.ctrl.AcceptCall(context.Background()), domain.ErrInvalidCallState)
	// Decline is for the callee side.
	assert.ErrorIs(t, f.ctrl.DeclineCall(context.Background()), domain.ErrInvalidCallState)
}

func TestCallStatusForUnknownCallIgnored(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "caller"}, time.Minute)

	_, err := f.ctrl.InitiateCall(context.Background(), "callee", domain.CallKindAudio)
	require.NoError(t, err)

	f.ctrl.HandleNotification(statusNotification(t, "some-other-call", "accepted"))
	assert.Equal(t, domain.CallRinging, f.ctrl.State())
}

func TestCallMalformedNotificationsIgnored(t *testing.T) {
	f := newCallFixture(t, domain.Identity{ID: "u1"}, time.Minute)

	f.ctrl.HandleNotification(ports.Notification{Kind: ports.NotifyRinging, Payload: []byte("{broken")})
	f.ctrl.HandleNotification(ports.Notification{Kind: ports.NotifyCallStatus, Payload: []byte("{broken")})
	assert.Equal(t, domain.CallIdle, f.ctrl.State())
}
