package services

import (
	"context"
	"sync"
	"time"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"
	apperrors "liveroom/pkg/errors"

	"go.uber.org/zap"
)

// CallCallbacks surface 1:1 call lifecycle events to the caller.
type CallCallbacks struct {
	OnIncomingCall  func(call domain.Call)
	OnCallConnected func(call domain.Call)
	OnCallEnded     func(reason domain.CallEndReason, duration time.Duration)
	OnCallFailed    func(err error)
}

const DefaultRingTimeout = 60 * time.Second

// CallController owns the 1:1 call state machine. It is fully
// independent of the room-level signaling protocol; it only rides on
// the backend API and the per-user notification channel.
type CallController struct {
	backend   ports.Backend
	metrics   Metrics
	logger    *zap.SugaredLogger
	identity  domain.Identity
	callbacks CallCallbacks

	ringTimeout time.Duration

	mu         sync.Mutex
	state      domain.CallState
	call       *domain.Call
	isIncoming bool
	ringTimer  *time.Timer
}

func NewCallController(
	backend ports.Backend,
	metrics Metrics,
	logger *zap.SugaredLogger,
	identity domain.Identity,
	ringTimeout time.Duration,
	callbacks CallCallbacks,
) *CallController {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &CallController{
		backend:     backend,
		metrics:     metrics,
		logger:      logger,
		identity:    identity,
		callbacks:   callbacks,
		ringTimeout: ringTimeout,
		state:       domain.CallIdle,
	}
}

// InitiateCall dials calleeID. Valid only from idle.
func (c *CallController) InitiateCall(ctx context.Context, calleeID domain.UserID, kind domain.CallKind) (*domain.Call, error) {
	c.mu.Lock()
	if c.state != domain.CallIdle {
		c.mu.Unlock()
		return nil, domain.ErrCallInProgress
	}
	c.state = domain.CallInitiating
	c.mu.Unlock()

	call, err := c.backend.CreateCall(ctx, c.identity.ID, calleeID, kind)
	if err != nil {
		c.mu.Lock()
		c.state = domain.CallIdle
		c.mu.Unlock()
		return nil, apperrors.NewBackendRequestError("failed to create call", err)
	}

	c.mu.Lock()
	c.call = call
	c.isIncoming = false
	c.state = domain.CallRinging
	// Unanswered-call timer: fires the cancellation path if still
	// ringing when it elapses.
	c.ringTimer = time.AfterFunc(c.ringTimeout, c.onRingTimeout)
	c.mu.Unlock()

	c.metrics.CallStarted()
	c.logger.Infow("call initiated", "call_id", call.ID, "callee", calleeID, "kind", kind)
	return call, nil
}

func (c *CallController) onRingTimeout() {
	c.mu.Lock()
	if c.state != domain.CallRinging || c.isIncoming {
		c.mu.Unlock()
		return
	}
	call := c.call
	fire := c.finishLocked(domain.CallCancelled)
	c.mu.Unlock()
	fire()

	if call != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.backend.UpdateCallStatus(ctx, call.ID, "cancelled"); err != nil {
			c.logger.Warnw("failed to report call timeout", "call_id", call.ID, "error", err)
		}
	}
}

// AcceptCall is valid only while ringing on an incoming call. Invalid
// invocations return a failure value, never panic.
func (c *CallController) AcceptCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.CallRinging || !c.isIncoming {
		c.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	call := *c.call
	c.state = domain.CallConnecting
	c.stopRingTimerLocked()
	c.mu.Unlock()

	if err := c.backend.UpdateCallStatus(ctx, call.ID, "accepted"); err != nil {
		c.fail(apperrors.NewBackendRequestError("failed to accept call", err))
		return apperrors.NewBackendRequestError("failed to accept call", err)
	}

	c.mu.Lock()
	if c.state != domain.CallConnecting {
		// Resolved concurrently (remote cancelled); nothing to connect.
		c.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	c.state = domain.CallConnected
	c.call.StartedAt = time.Now()
	call = *c.call
	c.mu.Unlock()

	if c.callbacks.OnCallConnected != nil {
		c.callbacks.OnCallConnected(call)
	}
	return nil
}

// DeclineCall is valid only while ringing on an incoming call.
func (c *CallController) DeclineCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.CallRinging || !c.isIncoming {
		c.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	call := c.call
	fire := c.finishLocked(domain.CallDeclined)
	c.mu.Unlock()
	fire()

	if err := c.backend.UpdateCallStatus(ctx, call.ID, "declined"); err != nil {
		return apperrors.NewBackendRequestError("failed to decline call", err)
	}
	return nil
}

// CancelCall is valid only while ringing on an outgoing call.
func (c *CallController) CancelCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.CallRinging || c.isIncoming {
		c.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	call := c.call
	fire := c.finishLocked(domain.CallCancelled)
	c.mu.Unlock()
	fire()

	if err := c.backend.UpdateCallStatus(ctx, call.ID, "cancelled"); err != nil {
		return apperrors.NewBackendRequestError("failed to cancel call", err)
	}
	return nil
}

// EndCall is valid only while connected.
func (c *CallController) EndCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.CallConnected {
		c.mu.Unlock()
		return domain.ErrInvalidCallState
	}
	call := c.call
	call.EndedAt = time.Now()
	fire := c.finishLocked(domain.CallEndedNormally)
	c.mu.Unlock()
	fire()

	if err := c.backend.UpdateCallStatus(ctx, call.ID, "ended"); err != nil {
		return apperrors.NewBackendRequestError("failed to end call", err)
	}
	return nil
}

// HandleNotification routes per-user channel events for this identity.
func (c *CallController) HandleNotification(n ports.Notification) {
	switch n.Kind {
	case ports.NotifyRinging:
		var payload struct {
			ID       string `json:"callId"`
			RoomID   string `json:"roomId"`
			CallerID string `json:"callerId"`
			CalleeID string `json:"calleeId"`
			Kind     string `json:"kind"`
		}
		if err := n.Decode(&payload); err != nil {
			c.logger.Warnw("dropped malformed ringing notification", "error", err)
			return
		}
		if domain.UserID(payload.CalleeID) != c.identity.ID {
			return
		}
		call := domain.Call{
			ID:       domain.CallID(payload.ID),
			RoomID:   domain.RoomID(payload.RoomID),
			CallerID: domain.UserID(payload.CallerID),
			CalleeID: domain.UserID(payload.CalleeID),
			Kind:     domain.CallKind(payload.Kind),
			Status:   "ringing",
		}

		c.mu.Lock()
		if c.state != domain.CallIdle {
			c.mu.Unlock()
			c.logger.Infow("ignoring incoming call while busy", "call_id", call.ID)
			return
		}
		callCopy := call
		c.call = &callCopy
		c.isIncoming = true
		c.state = domain.CallRinging
		c.mu.Unlock()

		if c.callbacks.OnIncomingCall != nil {
			c.callbacks.OnIncomingCall(call)
		}

	case ports.NotifyCallStatus:
		var payload struct {
			CallID string `json:"callId"`
			Status string `json:"status"`
		}
		if err := n.Decode(&payload); err != nil {
			c.logger.Warnw("dropped malformed call status notification", "error", err)
			return
		}
		c.handleStatusUpdate(domain.CallID(payload.CallID), payload.Status)
	}
}

func (c *CallController) handleStatusUpdate(callID domain.CallID, status string) {
	c.mu.Lock()
	if c.call == nil || c.call.ID != callID {
		c.mu.Unlock()
		return
	}

	switch status {
	case "accepted":
		if c.state != domain.CallRinging || c.isIncoming {
			c.mu.Unlock()
			return
		}
		c.stopRingTimerLocked()
		c.state = domain.CallConnected
		c.call.StartedAt = time.Now()
		call := *c.call
		c.mu.Unlock()
		if c.callbacks.OnCallConnected != nil {
			c.callbacks.OnCallConnected(call)
		}

	case "declined":
		fire := c.finishLocked(domain.CallDeclined)
		c.mu.Unlock()
		fire()

	case "cancelled":
		fire := c.finishLocked(domain.CallCancelled)
		c.mu.Unlock()
		fire()

	case "ended":
		if c.call != nil {
			c.call.EndedAt = time.Now()
		}
		fire := c.finishLocked(domain.CallEndedNormally)
		c.mu.Unlock()
		fire()

	default:
		c.mu.Unlock()
	}
}

// finishLocked performs the single terminal transition: the call object
// is cleared entirely and the state returns to idle. Must be called
// with c.mu held. The returned func fires OnCallEnded exactly once and
// must be invoked after the mutex is released.
func (c *CallController) finishLocked(reason domain.CallEndReason) func() {
	if c.state == domain.CallIdle {
		return func() {}
	}
	c.stopRingTimerLocked()
	duration := c.call.Duration()
	c.call = nil
	c.isIncoming = false
	c.state = domain.CallIdle

	c.metrics.CallResolved(reason)
	cb := c.callbacks.OnCallEnded
	return func() {
		if cb != nil {
			cb(reason, duration)
		}
	}
}

func (c *CallController) fail(err error) {
	c.mu.Lock()
	c.stopRingTimerLocked()
	c.call = nil
	c.isIncoming = false
	c.state = domain.CallIdle
	c.mu.Unlock()

	c.metrics.CallResolved(domain.CallFailure)
	c.logger.Warnw("call failed", "error", err)
	if c.callbacks.OnCallFailed != nil {
		c.callbacks.OnCallFailed(err)
	}
}

func (c *CallController) stopRingTimerLocked() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

// Close clears any pending timer so it cannot fire against a torn-down
// controller.
func (c *CallController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRingTimerLocked()
	c.call = nil
	c.state = domain.CallIdle
}

func (c *CallController) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveCall returns a copy of the current call, or nil while idle.
func (c *CallController) ActiveCall() *domain.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil {
		return nil
	}
	call := *c.call
	return &call
}

func (c *CallController) IsIncoming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isIncoming
}
