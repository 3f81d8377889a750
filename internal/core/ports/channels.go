package ports

import (
	"context"
	"encoding/json"

	"liveroom/internal/core/domain"
)

// SignalChannel is the room-scoped message bus used for the in-room
// coordination protocol. Delivery is best-effort, ordered per sender,
// not globally ordered.
type SignalChannel interface {
	Publish(ctx context.Context, roomID domain.RoomID, payload []byte, reliable bool) error
	// Subscribe registers a message callback and returns an unsubscribe
	// function. The callback runs on the channel's delivery goroutine.
	Subscribe(ctx context.Context, roomID domain.RoomID, onMessage func(payload []byte)) (func(), error)
	// Backlog returns the retained reliable payloads for the room,
	// oldest first. Used to replay messages missed across a reconnect.
	Backlog(ctx context.Context, roomID domain.RoomID) ([][]byte, error)
}

type NotificationKind string

const (
	NotifyRinging             NotificationKind = "ringing"
	NotifyCallStatus          NotificationKind = "call_status"
	NotifyGuestInvitation     NotificationKind = "guest_invitation"
	NotifyJoinRequest         NotificationKind = "join_request"
	NotifyJoinRequestResponse NotificationKind = "join_request_response"
	NotifyYourGuestEnded      NotificationKind = "your_guest_ended"
	NotifyHostDisconnected    NotificationKind = "host_disconnected"
	NotifyHostReconnected     NotificationKind = "host_reconnected"
	NotifySessionEnded        NotificationKind = "session_ended"
)

// Notification is one event delivered on the per-user channel.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v; a notification with no payload
// decodes into the zero value.
func (n Notification) Decode(v interface{}) error {
	if len(n.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(n.Payload, v)
}

// NotificationChannel is the per-user fan-in of direct notifications
// (invitations, call signaling, host presence).
type NotificationChannel interface {
	PublishTo(ctx context.Context, userID domain.UserID, n Notification) error
	Subscribe(ctx context.Context, userID domain.UserID, onNotification func(Notification)) (func(), error)
}
