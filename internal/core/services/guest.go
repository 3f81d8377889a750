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

// GuestCallbacks surface invitation/join-request events.
type GuestCallbacks struct {
	OnInvitationReceived func(inv domain.GuestInvitation)
	OnJoinRequest        func(req domain.JoinRequest)
	OnRequestApproved    func()
	OnRequestRejected    func()
	OnGuestEnded         func()
}

// GuestInvitationController owns the host-initiated invitation flow and
// the viewer-initiated join-request flow that grant or revoke publish
// capability mid-session. One controller serves both roles; which side
// is active follows from the methods the caller uses.
type GuestInvitationController struct {
	backend   ports.Backend
	logger    *zap.SugaredLogger
	identity  domain.Identity
	sessionID domain.SessionID
	callbacks GuestCallbacks

	mu sync.Mutex
	// Host side: pending viewer requests in arrival order.
	pending []domain.JoinRequest
	// Viewer side.
	invitation      *domain.GuestInvitation
	ownRequestID    string
	requestInFlight bool
	isCoHost        bool
	nowFunc         func() time.Time
}

func NewGuestInvitationController(
	backend ports.Backend,
	logger *zap.SugaredLogger,
	identity domain.Identity,
	sessionID domain.SessionID,
	callbacks GuestCallbacks,
) *GuestInvitationController {
	return &GuestInvitationController{
		backend:   backend,
		logger:    logger,
		identity:  identity,
		sessionID: sessionID,
		callbacks: callbacks,
		nowFunc:   time.Now,
	}
}

// InviteGuest sends a co-host invitation to targetUserID via the
// notification channel (delivered by the backend).
func (c *GuestInvitationController) InviteGuest(ctx context.Context, targetUserID domain.UserID) error {
	if err := c.backend.InviteGuest(ctx, c.sessionID, c.identity, targetUserID); err != nil {
		return apperrors.NewBackendRequestError("failed to invite guest", err)
	}
	c.logger.Infow("guest invited", "session_id", c.sessionID, "target", targetUserID)
	return nil
}

// RespondToRequest answers one specific pending join request and
// notifies the requester.
func (c *GuestInvitationController) RespondToRequest(ctx context.Context, requestID string, approve bool) error {
	c.mu.Lock()
	now := c.nowFunc()
	var found *domain.JoinRequest
	kept := c.pending[:0]
	for i := range c.pending {
		r := c.pending[i]
		if r.ID == requestID {
			req := r
			found = &req
			continue
		}
		if r.Expired(now) {
			continue
		}
		kept = append(kept, r)
	}
	c.pending = kept
	c.mu.Unlock()

	if found == nil {
		return domain.ErrRequestNotFound
	}
	if found.Expired(now) {
		// The backend stays authoritative for expiry; locally we just
		// refuse to answer a request that is already past its deadline.
		return domain.ErrRequestNotFound
	}

	if err := c.backend.RespondToJoinRequest(ctx, c.sessionID, requestID, approve); err != nil {
		// Restore the entry so the host can retry the answer.
		c.mu.Lock()
		c.pending = append(c.pending, *found)
		c.mu.Unlock()
		return apperrors.NewBackendRequestError("failed to respond to join request", err)
	}
	return nil
}

// EndGuest revokes a guest's publish capability and notifies them.
func (c *GuestInvitationController) EndGuest(ctx context.Context, userID domain.UserID) error {
	if err := c.backend.EndGuest(ctx, c.sessionID, userID); err != nil {
		return apperrors.NewBackendRequestError("failed to end guest", err)
	}
	return nil
}

// RequestToJoin asks the host for publish capability. A single request
// may be in flight per viewer. The in-flight marker is held across the
// backend call so a concurrent invocation cannot create a second
// request.
func (c *GuestInvitationController) RequestToJoin(ctx context.Context, message string) error {
	c.mu.Lock()
	if c.ownRequestID != "" || c.requestInFlight {
		c.mu.Unlock()
		return domain.ErrRequestPending
	}
	c.requestInFlight = true
	c.mu.Unlock()

	req, err := c.backend.CreateJoinRequest(ctx, c.sessionID, c.identity, message)

	c.mu.Lock()
	c.requestInFlight = false
	if err == nil {
		c.ownRequestID = req.ID
	}
	c.mu.Unlock()

	if err != nil {
		return apperrors.NewBackendRequestError("failed to request to join", err)
	}
	return nil
}

// CancelRequest withdraws the in-flight join request, if any.
func (c *GuestInvitationController) CancelRequest(ctx context.Context) error {
	c.mu.Lock()
	requestID := c.ownRequestID
	c.mu.Unlock()
	if requestID == "" {
		return domain.ErrRequestNotFound
	}

	if err := c.backend.CancelJoinRequest(ctx, c.sessionID, requestID); err != nil {
		return apperrors.NewBackendRequestError("failed to cancel join request", err)
	}
	c.mu.Lock()
	c.ownRequestID = ""
	c.mu.Unlock()
	return nil
}

// RespondToInvitation acts only while an invitation is pending.
// Accepting flips the local co-host flag; declining just clears it.
func (c *GuestInvitationController) RespondToInvitation(accept bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invitation == nil {
		return domain.ErrNoPendingInvitation
	}
	if c.invitation.Expired(c.nowFunc()) {
		c.invitation = nil
		return domain.ErrNoPendingInvitation
	}
	if accept {
		c.isCoHost = true
	}
	c.invitation = nil
	return nil
}

// HandleNotification routes per-user channel events for this identity.
func (c *GuestInvitationController) HandleNotification(n ports.Notification) {
	switch n.Kind {
	case ports.NotifyGuestInvitation:
		var inv domain.GuestInvitation
		if err := n.Decode(&inv); err != nil {
			c.logger.Warnw("dropped malformed guest invitation", "error", err)
			return
		}
		c.mu.Lock()
		c.invitation = &inv
		c.mu.Unlock()
		if c.callbacks.OnInvitationReceived != nil {
			c.callbacks.OnInvitationReceived(inv)
		}

	case ports.NotifyJoinRequest:
		var req domain.JoinRequest
		if err := n.Decode(&req); err != nil {
			c.logger.Warnw("dropped malformed join request", "error", err)
			return
		}
		c.mu.Lock()
		c.pending = append(c.pending, req)
		c.mu.Unlock()
		if c.callbacks.OnJoinRequest != nil {
			c.callbacks.OnJoinRequest(req)
		}

	case ports.NotifyJoinRequestResponse:
		var payload struct {
			Approved bool `json:"approved"`
		}
		if err := n.Decode(&payload); err != nil {
			c.logger.Warnw("dropped malformed join request response", "error", err)
			return
		}
		c.mu.Lock()
		c.ownRequestID = ""
		if payload.Approved {
			c.isCoHost = true
		}
		c.mu.Unlock()
		if payload.Approved {
			if c.callbacks.OnRequestApproved != nil {
				c.callbacks.OnRequestApproved()
			}
		} else if c.callbacks.OnRequestRejected != nil {
			c.callbacks.OnRequestRejected()
		}

	case ports.NotifyYourGuestEnded:
		c.mu.Lock()
		c.isCoHost = false
		c.mu.Unlock()
		if c.callbacks.OnGuestEnded != nil {
			c.callbacks.OnGuestEnded()
		}
	}
}

// PendingRequests returns unanswered, unexpired join requests in
// arrival order.
func (c *GuestInvitationController) PendingRequests() []domain.JoinRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	out := make([]domain.JoinRequest, 0, len(c.pending))
	for _, r := range c.pending {
		if r.Expired(now) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// PendingInvitation returns the current invitation, nil if none or
// already expired.
func (c *GuestInvitationController) PendingInvitation() *domain.GuestInvitation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invitation == nil || c.invitation.Expired(c.nowFunc()) {
		return nil
	}
	inv := *c.invitation
	return &inv
}

func (c *GuestInvitationController) IsCoHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isCoHost
}

func (c *GuestInvitationController) HasPendingRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownRequestID != "" || c.requestInFlight
}
