package ports

import (
	"context"

	"liveroom/internal/core/domain"
)

type CreateSessionParams struct {
	Title         string
	Kind          domain.SessionKind
	Access        domain.AccessPolicy
	ChatEnabled   bool
	GiftsEnabled  bool
	GuestsEnabled bool
	CreatorID     domain.UserID
}

// Backend is the request/response persistence and notification service.
// Every non-success response surfaces as a typed, recoverable error; no
// partial state mutation happens in the core before success.
type Backend interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*domain.Session, error)
	JoinSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	EndSession(ctx context.Context, id domain.SessionID) error

	// IssueRoomToken exchanges the local identity for transport
	// credentials scoped to one room.
	IssueRoomToken(ctx context.Context, roomName string, identity domain.Identity, canPublish bool) (TransportCredentials, error)

	CreateCall(ctx context.Context, callerID, calleeID domain.UserID, kind domain.CallKind) (*domain.Call, error)
	UpdateCallStatus(ctx context.Context, id domain.CallID, status string) error

	InviteGuest(ctx context.Context, sessionID domain.SessionID, host domain.Identity, targetUserID domain.UserID) error
	CreateJoinRequest(ctx context.Context, sessionID domain.SessionID, requester domain.Identity, message string) (*domain.JoinRequest, error)
	CancelJoinRequest(ctx context.Context, sessionID domain.SessionID, requestID string) error
	RespondToJoinRequest(ctx context.Context, sessionID domain.SessionID, requestID string, approve bool) error
	EndGuest(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) error
}
