package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageType string

const (
	MessageHandRaise   MessageType = "hand_raise"
	MessageGrantSpeak  MessageType = "grant_speak"
	MessageRevokeSpeak MessageType = "revoke_speak"
	MessageChat        MessageType = "chat"
)

// DataMessage is the wire envelope exchanged over the room's signal
// channel for non-media coordination. Ephemeral, never persisted.
type DataMessage struct {
	Type       MessageType       `json:"type"`
	SenderID   UserID            `json:"senderId"`
	SenderName string            `json:"senderName"`
	Payload    map[string]string `json:"payload,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

// TargetID returns the intended recipient of a grant/revoke, empty when
// the sender addressed the whole room.
func (m *DataMessage) TargetID() UserID {
	return UserID(m.Payload["targetId"])
}

func (m *DataMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data message: %w", err)
	}
	return data, nil
}

// DecodeDataMessage parses one envelope. A message that does not decode
// or carries no type is malformed; the caller drops it.
func DecodeDataMessage(raw []byte) (*DataMessage, error) {
	var m DataMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode data message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("data message has no type")
	}
	return &m, nil
}

// SpeakRequest is a pending hand-raise surfaced to the host. No state
// changes automatically; a human decides.
type SpeakRequest struct {
	SenderID   UserID
	SenderName string
	RaisedAt   time.Time
}
