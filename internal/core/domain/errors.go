package domain

import "errors"

var (
	ErrNotConnected        = errors.New("not connected to a room")
	ErrCannotPublish       = errors.New("no publish capability granted")
	ErrInvalidCallState    = errors.New("operation not valid in current call state")
	ErrCallInProgress      = errors.New("another call is already in progress")
	ErrRequestPending      = errors.New("a join request is already pending")
	ErrNoPendingInvitation = errors.New("no invitation is pending")
	ErrRequestNotFound     = errors.New("join request not found")
	ErrSessionEnded        = errors.New("session has ended")
)
