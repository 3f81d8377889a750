package domain

import "time"

type SessionID string
type RoomID string
type UserID string

type SessionKind string

const (
	SessionKindAudio      SessionKind = "audio"
	SessionKindAudioVideo SessionKind = "audio_video"
)

type AccessPolicy string

const (
	AccessPublic     AccessPolicy = "public"
	AccessFollowers  AccessPolicy = "followers"
	AccessInviteOnly AccessPolicy = "invite_only"
)

type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionLive    SessionStatus = "live"
	SessionEnded   SessionStatus = "ended"
)

// Session is a logical live gathering, distinct from any single
// transport connection to it. Never reused after it has ended.
type Session struct {
	ID            SessionID
	RoomID        RoomID
	Title         string
	Kind          SessionKind
	Access        AccessPolicy
	ChatEnabled   bool
	GiftsEnabled  bool
	GuestsEnabled bool
	CreatorID     UserID
	StartedAt     time.Time
	Status        SessionStatus
}

// ConnectionState tracks the lifecycle of one transport attachment.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnReconnecting ConnectionState = "reconnecting"
)

type CameraFacing string

const (
	FacingFront CameraFacing = "front"
	FacingBack  CameraFacing = "back"
)

// LocalMediaState mirrors what the local client is publishing.
// Flags flip only after the transport confirms the publish event.
type LocalMediaState struct {
	MicEnabled    bool
	CameraEnabled bool
	Facing        CameraFacing
	CanPublish    bool
	PushToTalk    bool

	// NoiseFilterAvailable reports whether the client can run noise
	// suppression on the captured audio. Fixed for the session lifetime.
	NoiseFilterAvailable bool
}
