package domain

import "time"

// GuestInvitation is a host-initiated offer of publish capability.
// Transient: held only until answered or expired.
type GuestInvitation struct {
	SessionID    SessionID
	HostID       UserID
	HostName     string
	HostAvatar   string
	SessionTitle string
	ExpiresAt    time.Time
}

// JoinRequest is a viewer-initiated ask for publish capability.
type JoinRequest struct {
	ID          string
	RequesterID UserID
	Name        string
	AvatarURL   string
	Message     string
	RequestedAt time.Time
	ExpiresAt   time.Time
}

func (i *GuestInvitation) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

func (r *JoinRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
