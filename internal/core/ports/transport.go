package ports

import (
	"context"

	"liveroom/internal/core/domain"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// DisconnectReason distinguishes why the transport dropped the room.
type DisconnectReason string

const (
	DisconnectUnknown           DisconnectReason = "unknown"
	DisconnectParticipantKicked DisconnectReason = "participant_removed"
	DisconnectRoomDeleted       DisconnectReason = "room_deleted"
	DisconnectDuplicateIdentity DisconnectReason = "duplicate_identity"
)

// TransportCredentials are the result of the backend token exchange and
// are opaque to the core.
type TransportCredentials struct {
	URL   string
	Token string
}

// Occupant is the transport-reported view of one remote room member.
type Occupant struct {
	ID             domain.UserID
	Name           string
	Metadata       string
	AudioPublished bool
	VideoPublished bool
	AudioMuted     bool
	Speaking       bool
}

// TransportHandler receives room-level transport events. Handlers must
// not block; the controller funnels them into its own dispatch queue.
type TransportHandler struct {
	OnConnected            func()
	OnDisconnected         func(reason DisconnectReason)
	OnReconnecting         func()
	OnReconnected          func()
	OnParticipantJoined    func(o Occupant)
	OnParticipantLeft      func(id domain.UserID)
	OnTrackPublished       func(id domain.UserID, kind TrackKind)
	OnTrackUnpublished     func(id domain.UserID, kind TrackKind)
	OnTrackMuted           func(id domain.UserID, kind TrackKind, muted bool)
	OnActiveSpeakersChange func(ids []domain.UserID)
	OnQualityChanged       func(level domain.QualityLevel)
	OnData                 func(senderID domain.UserID, payload []byte)
}

// RoomHandle is one open transport-level attachment to a media room.
type RoomHandle interface {
	// SetHandler installs the event handler. ClearHandler guarantees no
	// further events are dispatched after it returns.
	SetHandler(h TransportHandler)
	ClearHandler()

	PublishTrack(ctx context.Context, kind TrackKind) error
	UnpublishTrack(ctx context.Context, kind TrackKind) error

	// Roster returns the current remote occupants. The local identity is
	// not included.
	Roster() []Occupant

	Close() error
}

// RoomTransport opens media-room connections. The core never implements
// media itself; it only drives this boundary.
type RoomTransport interface {
	Open(ctx context.Context, roomName string, creds TransportCredentials, identity domain.Identity) (RoomHandle, error)
}
