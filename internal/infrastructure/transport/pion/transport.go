package pion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries the WebRTC connection settings for the media gateway.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// RoomTransport opens WebRTC attachments to media rooms through the
// gateway's HTTP offer/answer exchange. Control events (roster, quality,
// presence) ride on a data channel next to the media tracks.
type RoomTransport struct {
	config Config
	http   *http.Client
	logger *zap.SugaredLogger
}

func NewRoomTransport(config Config, logger *zap.SugaredLogger) *RoomTransport {
	return &RoomTransport{
		config: config,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// controlFrame is one JSON event from the gateway on the control data
// channel.
type controlFrame struct {
	Event     string          `json:"event"`
	Reason    string          `json:"reason,omitempty"`
	Level     string          `json:"level,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Occupants []gatewayMember `json:"occupants,omitempty"`
	Speakers  []string        `json:"speakers,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Published bool            `json:"published,omitempty"`
	Muted     bool            `json:"muted,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type gatewayMember struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Metadata       string `json:"metadata"`
	AudioPublished bool   `json:"audioPublished"`
	VideoPublished bool   `json:"videoPublished"`
	AudioMuted     bool   `json:"audioMuted"`
	Speaking       bool   `json:"speaking"`
}

// Open dials the room: builds a peer connection, performs the
// offer/answer exchange against creds.URL and waits for the control
// channel to open.
func (t *RoomTransport) Open(ctx context.Context, roomName string, creds ports.TransportCredentials, identity domain.Identity) (ports.RoomHandle, error) {
	pc, err := t.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := &roomConn{
		pc:       pc,
		identity: identity,
		roomName: roomName,
		logger:   t.logger,
		senders:  make(map[ports.TrackKind]*webrtc.RTPSender),
		roster:   make(map[domain.UserID]ports.Occupant),
	}

	control, err := pc.CreateDataChannel("control", nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create control channel: %w", err)
	}
	conn.control = control
	control.OnMessage(func(msg webrtc.DataChannelMessage) {
		conn.handleControlFrame(msg.Data)
	})

	pc.OnConnectionStateChange(conn.onConnectionStateChange)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	// Wait for ICE gathering so the offer carries all candidates; the
	// gateway exchange is a single round trip.
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	answer, err := t.exchange(ctx, creds, roomName, identity, pc.LocalDescription())
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(*answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	return conn, nil
}

// exchange posts the local offer to the gateway and returns its answer.
func (t *RoomTransport) exchange(ctx context.Context, creds ports.TransportCredentials, roomName string, identity domain.Identity, offer *webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	body, err := json.Marshal(map[string]interface{}{
		"room":     roomName,
		"identity": string(identity.ID),
		"name":     identity.Name,
		"offer":    offer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal join request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.URL+"/join", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway join request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway rejected join: status %d: %s", resp.StatusCode, data)
	}

	var payload struct {
		Answer webrtc.SessionDescription `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode gateway answer: %w", err)
	}
	return &payload.Answer, nil
}

func (t *RoomTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   t.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if t.config.PortRange.Min > 0 && t.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(t.config.PortRange.Min, t.config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set port range: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// roomConn is one open attachment. It translates peer connection and
// control channel events into the ports.TransportHandler surface.
type roomConn struct {
	pc       *webrtc.PeerConnection
	control  *webrtc.DataChannel
	identity domain.Identity
	roomName string
	logger   *zap.SugaredLogger

	mu           sync.Mutex
	handler      ports.TransportHandler
	senders      map[ports.TrackKind]*webrtc.RTPSender
	roster       map[domain.UserID]ports.Occupant
	wasConnected bool
	closed       bool
}

func (c *roomConn) SetHandler(h ports.TransportHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *roomConn) ClearHandler() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = ports.TransportHandler{}
}

func (c *roomConn) currentHandler() ports.TransportHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *roomConn) onConnectionStateChange(state webrtc.PeerConnectionState) {
	c.logger.Infow("room connection state changed",
		"room", c.roomName,
		"state", state.String(),
	)

	c.mu.Lock()
	wasConnected := c.wasConnected
	if state == webrtc.PeerConnectionStateConnected {
		c.wasConnected = true
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	h := c.currentHandler()
	switch state {
	case webrtc.PeerConnectionStateConnected:
		if wasConnected {
			if h.OnReconnected != nil {
				h.OnReconnected()
			}
		} else if h.OnConnected != nil {
			h.OnConnected()
		}
	case webrtc.PeerConnectionStateDisconnected:
		// ICE may still restart; the session layer shows reconnecting
		// until the connection resolves either way.
		if h.OnReconnecting != nil {
			h.OnReconnecting()
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		if h.OnDisconnected != nil {
			h.OnDisconnected(ports.DisconnectUnknown)
		}
	}
}

// handleControlFrame applies one gateway event.
func (c *roomConn) handleControlFrame(data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warnw("dropped undecodable control frame", "error", err)
		return
	}
	h := c.currentHandler()

	switch frame.Event {
	case "roster":
		c.mu.Lock()
		c.roster = make(map[domain.UserID]ports.Occupant, len(frame.Occupants))
		for _, m := range frame.Occupants {
			if domain.UserID(m.ID) == c.identity.ID {
				continue
			}
			c.roster[domain.UserID(m.ID)] = occupantFromMember(m)
		}
		c.mu.Unlock()
		// A full roster refresh surfaces as a single join event; the
		// session layer rebuilds from Roster() regardless of which member
		// changed.
		if h.OnParticipantJoined != nil {
			h.OnParticipantJoined(ports.Occupant{})
		}

	case "member_joined":
		if len(frame.Occupants) != 1 {
			return
		}
		o := occupantFromMember(frame.Occupants[0])
		c.mu.Lock()
		c.roster[o.ID] = o
		c.mu.Unlock()
		if h.OnParticipantJoined != nil {
			h.OnParticipantJoined(o)
		}

	case "member_left":
		id := domain.UserID(frame.UserID)
		c.mu.Lock()
		delete(c.roster, id)
		c.mu.Unlock()
		if h.OnParticipantLeft != nil {
			h.OnParticipantLeft(id)
		}

	case "track_published", "track_unpublished":
		id := domain.UserID(frame.UserID)
		kind := ports.TrackKind(frame.Kind)
		published := frame.Event == "track_published"
		c.mu.Lock()
		if o, ok := c.roster[id]; ok {
			switch kind {
			case ports.TrackAudio:
				o.AudioPublished = published
			case ports.TrackVideo:
				o.VideoPublished = published
			}
			c.roster[id] = o
		}
		c.mu.Unlock()
		if published {
			if h.OnTrackPublished != nil {
				h.OnTrackPublished(id, kind)
			}
		} else if h.OnTrackUnpublished != nil {
			h.OnTrackUnpublished(id, kind)
		}

	case "track_muted":
		id := domain.UserID(frame.UserID)
		c.mu.Lock()
		if o, ok := c.roster[id]; ok {
			o.AudioMuted = frame.Muted
			c.roster[id] = o
		}
		c.mu.Unlock()
		if h.OnTrackMuted != nil {
			h.OnTrackMuted(id, ports.TrackKind(frame.Kind), frame.Muted)
		}

	case "active_speakers":
		ids := make([]domain.UserID, 0, len(frame.Speakers))
		c.mu.Lock()
		speaking := make(map[domain.UserID]bool, len(frame.Speakers))
		for _, s := range frame.Speakers {
			speaking[domain.UserID(s)] = true
			ids = append(ids, domain.UserID(s))
		}
		for id, o := range c.roster {
			o.Speaking = speaking[id]
			c.roster[id] = o
		}
		c.mu.Unlock()
		if h.OnActiveSpeakersChange != nil {
			h.OnActiveSpeakersChange(ids)
		}

	case "quality":
		if h.OnQualityChanged != nil {
			h.OnQualityChanged(domain.QualityLevel(frame.Level))
		}

	case "data":
		if h.OnData != nil {
			h.OnData(domain.UserID(frame.Sender), frame.Payload)
		}

	case "removed":
		c.fireDisconnect(mapDisconnectReason(frame.Reason))

	default:
		c.logger.Debugw("ignoring unknown control frame", "event", frame.Event)
	}
}

func occupantFromMember(m gatewayMember) ports.Occupant {
	return ports.Occupant{
		ID:             domain.UserID(m.ID),
		Name:           m.Name,
		Metadata:       m.Metadata,
		AudioPublished: m.AudioPublished,
		VideoPublished: m.VideoPublished,
		AudioMuted:     m.AudioMuted,
		Speaking:       m.Speaking,
	}
}

func mapDisconnectReason(reason string) ports.DisconnectReason {
	switch reason {
	case "participant_removed":
		return ports.DisconnectParticipantKicked
	case "room_deleted":
		return ports.DisconnectRoomDeleted
	case "duplicate_identity":
		return ports.DisconnectDuplicateIdentity
	default:
		return ports.DisconnectUnknown
	}
}

func (c *roomConn) fireDisconnect(reason ports.DisconnectReason) {
	h := c.currentHandler()
	if h.OnDisconnected != nil {
		h.OnDisconnected(reason)
	}
}

// PublishTrack adds a local track of the given kind and announces it on
// the control channel. The gateway echoes a track_published event back,
// which is what flips the session-level media flags.
func (c *roomConn) PublishTrack(ctx context.Context, kind ports.TrackKind) error {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case ports.TrackAudio:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	case ports.TrackVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	default:
		return fmt.Errorf("unknown track kind %q", kind)
	}

	c.mu.Lock()
	if _, exists := c.senders[kind]; exists {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticRTP(capability, string(kind), string(c.identity.ID))
	if err != nil {
		return fmt.Errorf("failed to create local track: %w", err)
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}

	c.mu.Lock()
	c.senders[kind] = sender
	c.mu.Unlock()

	return c.sendControl(ctx, map[string]interface{}{
		"event": "publish",
		"kind":  string(kind),
	})
}

// UnpublishTrack removes the local track of the given kind.
func (c *roomConn) UnpublishTrack(ctx context.Context, kind ports.TrackKind) error {
	c.mu.Lock()
	sender, exists := c.senders[kind]
	delete(c.senders, kind)
	c.mu.Unlock()
	if !exists {
		return nil
	}

	if err := c.pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("failed to remove track: %w", err)
	}
	return c.sendControl(ctx, map[string]interface{}{
		"event": "unpublish",
		"kind":  string(kind),
	})
}

func (c *roomConn) sendControl(_ context.Context, frame map[string]interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal control frame: %w", err)
	}
	if err := c.control.Send(data); err != nil {
		return fmt.Errorf("failed to send control frame: %w", err)
	}
	return nil
}

// Roster returns the gateway-reported remote occupants.
func (c *roomConn) Roster() []ports.Occupant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ports.Occupant, 0, len(c.roster))
	for _, o := range c.roster {
		out = append(out, o)
	}
	return out
}

func (c *roomConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.pc.Close()
}
