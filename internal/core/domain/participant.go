package domain

import "encoding/json"

type ParticipantRole string

const (
	RoleHost     ParticipantRole = "host"
	RoleCoHost   ParticipantRole = "co_host"
	RoleListener ParticipantRole = "listener"
)

// Identity is the locally-held identity used when connecting and when
// stamping outgoing data messages.
type Identity struct {
	ID        UserID
	Name      string
	AvatarURL string
	IsCreator bool
}

// Participant is a projected, non-owned view of one room occupant.
// Rebuilt whole on every roster-changing event, never mutated in place.
type Participant struct {
	ID            UserID
	Name          string
	Role          ParticipantRole
	Muted         bool
	CameraEnabled bool
	Speaking      bool
	AvatarURL     string
	IsLocal       bool
}

// ParticipantMetadata is the blob occupants declare about themselves.
// It is advisory only: nothing in the transport enforces it, so a
// self-declared host role is trusted as-is (known trust boundary).
type ParticipantMetadata struct {
	Role      string `json:"role,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsCreator bool   `json:"is_creator,omitempty"`
}

// ParseParticipantMetadata decodes the declared metadata blob.
// Unparseable input falls back to an empty blob, which in turn
// resolves to RoleListener.
func ParseParticipantMetadata(raw string) ParticipantMetadata {
	var meta ParticipantMetadata
	if raw == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return ParticipantMetadata{}
	}
	return meta
}

// RoleOf resolves the declared role once, at roster-rebuild time.
func (m ParticipantMetadata) RoleOf() ParticipantRole {
	switch {
	case m.Role == string(RoleHost) || m.IsCreator:
		return RoleHost
	case m.Role == string(RoleCoHost):
		return RoleCoHost
	default:
		return RoleListener
	}
}
