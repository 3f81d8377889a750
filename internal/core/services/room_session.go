package services

import (
	"context"
	"sync"
	"time"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"
	apperrors "liveroom/pkg/errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RoomSessionCallbacks are the caller-supplied hooks. All of them are
// optional and all of them fire on the controller's dispatch goroutine,
// so implementations must not block.
type RoomSessionCallbacks struct {
	OnStateChanged        func(state domain.ConnectionState)
	OnParticipantsChanged func(participants []domain.Participant)
	OnSpeakRequest        func(req domain.SpeakRequest)
	OnSpeakGranted        func()
	OnSpeakRevoked        func()
	OnChat                func(msg domain.DataMessage)
	OnQualityChanged      func(level domain.QualityLevel)
	OnRemovedFromRoom     func()
	OnRoomDeleted         func()
	OnDuplicateLogin      func()
	OnError               func(err error)
}

// RoomSessionOptions configure one controller for one logical session.
type RoomSessionOptions struct {
	RoomName  string
	SessionID domain.SessionID
	CallID    domain.CallID
	Identity  domain.Identity

	// Caller-declared intent, applied only after the transport reports
	// the connection established.
	EnableMicOnConnect    bool
	EnableCameraOnConnect bool

	// NoiseFilterAvailable is resolved once at construction; the
	// controller never probes for the capability at runtime.
	NoiseFilterAvailable bool

	MessagesPerSecond float64
	MessageBurst      int
}

const (
	defaultMessagesPerSecond = 10
	defaultMessageBurst      = 20
)

// RoomSessionController owns the connection state machine, the
// participant roster projection, local media toggles and the in-room
// signaling protocol.
type RoomSessionController struct {
	transport ports.RoomTransport
	signals   ports.SignalChannel
	backend   ports.Backend
	metrics   Metrics
	logger    *zap.SugaredLogger
	opts      RoomSessionOptions
	callbacks RoomSessionCallbacks

	mu            sync.Mutex
	state         domain.ConnectionState
	handle        ports.RoomHandle
	roomID        domain.RoomID
	gen           int
	media         domain.LocalMediaState
	participants  []domain.Participant
	speakRequests []domain.SpeakRequest
	limiters      map[domain.UserID]*rate.Limiter
	unsubscribe   func()
	lastSeenTS    int64

	// execMu is held by the dispatch loop while an event runs. Disconnect
	// takes it after the generation bump so an event already past its
	// staleness check finishes before Disconnect returns.
	execMu sync.Mutex

	events    chan queuedEvent
	done      chan struct{}
	closeOnce sync.Once
}

type queuedEvent struct {
	gen int
	fn  func()
}

func NewRoomSessionController(
	transport ports.RoomTransport,
	signals ports.SignalChannel,
	backend ports.Backend,
	metrics Metrics,
	logger *zap.SugaredLogger,
	opts RoomSessionOptions,
	callbacks RoomSessionCallbacks,
) *RoomSessionController {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = defaultMessagesPerSecond
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = defaultMessageBurst
	}

	c := &RoomSessionController{
		transport: transport,
		signals:   signals,
		backend:   backend,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
		callbacks: callbacks,
		state:     domain.ConnDisconnected,
		limiters:  make(map[domain.UserID]*rate.Limiter),
		events:    make(chan queuedEvent, 64),
		done:      make(chan struct{}),
	}
	c.media.Facing = domain.FacingFront
	c.media.NoiseFilterAvailable = opts.NoiseFilterAvailable
	go c.run()
	return c
}

// run is the single dispatch loop per session. Transport and channel
// callbacks only enqueue; every state mutation happens here, in order.
func (c *RoomSessionController) run() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.execMu.Lock()
			c.mu.Lock()
			stale := ev.gen != c.gen
			c.mu.Unlock()
			if !stale {
				ev.fn()
			}
			c.execMu.Unlock()
		}
	}
}

func (c *RoomSessionController) post(gen int, fn func()) {
	select {
	case c.events <- queuedEvent{gen: gen, fn: fn}:
	case <-c.done:
	}
}

// Connect establishes the transport connection. Idempotent while
// already connecting or connected. On any failure the state resolves to
// disconnected with no half-open connection retained.
func (c *RoomSessionController) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.ConnConnecting || c.state == domain.ConnConnected {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked()

	roomName := c.opts.RoomName
	if roomName == "" && c.opts.SessionID != "" {
		roomName = string(c.opts.SessionID)
	}
	if roomName == "" && c.opts.CallID != "" {
		roomName = string(c.opts.CallID)
	}
	if roomName == "" {
		c.mu.Unlock()
		return apperrors.NewConfigurationError("no room name, session id or call id to derive a room from")
	}

	c.state = domain.ConnConnecting
	gen := c.gen
	c.mu.Unlock()
	c.notifyState(domain.ConnConnecting)

	canPublish := c.opts.Identity.IsCreator || c.opts.EnableMicOnConnect
	creds, err := c.backend.IssueRoomToken(ctx, roomName, c.opts.Identity, canPublish)
	if err != nil {
		c.failConnect(gen)
		return apperrors.NewBackendRequestError("credential exchange failed", err)
	}

	handle, err := c.transport.Open(ctx, roomName, creds, c.opts.Identity)
	if err != nil {
		c.failConnect(gen)
		return apperrors.NewTransportError("failed to open room connection", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		// Disconnected while dialing; drop the late result.
		c.mu.Unlock()
		handle.ClearHandler()
		_ = handle.Close()
		return domain.ErrNotConnected
	}
	c.handle = handle
	c.roomID = domain.RoomID(roomName)
	c.media.CanPublish = canPublish
	c.mu.Unlock()

	handle.SetHandler(c.handlerFor(gen))

	unsub, err := c.signals.Subscribe(ctx, domain.RoomID(roomName), func(payload []byte) {
		c.post(gen, func() { c.handleInbound(gen, payload) })
	})
	if err != nil {
		c.failConnect(gen)
		return apperrors.NewTransportError("failed to subscribe to room signaling", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		unsub()
		return domain.ErrNotConnected
	}
	c.unsubscribe = unsub
	c.mu.Unlock()
	return nil
}

func (c *RoomSessionController) failConnect(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.state = domain.ConnDisconnected
	c.mu.Unlock()
	c.notifyState(domain.ConnDisconnected)
}

// Disconnect tears down the connection. Listeners are removed before
// the handle is closed and the dispatch loop is drained of any event
// already executing, so no caller-supplied callback fires after
// Disconnect returns. Must not be called from inside a callback.
func (c *RoomSessionController) Disconnect() {
	c.mu.Lock()
	wasDisconnected := c.state == domain.ConnDisconnected && c.handle == nil
	c.teardownLocked()
	c.state = domain.ConnDisconnected
	c.mu.Unlock()
	c.execMu.Lock()
	c.execMu.Unlock()
	if !wasDisconnected {
		c.notifyState(domain.ConnDisconnected)
	}
}

// Close disconnects and stops the dispatch loop.
func (c *RoomSessionController) Close() {
	c.Disconnect()
	c.closeOnce.Do(func() { close(c.done) })
}

// teardownLocked removes listeners, closes the handle and clears all
// per-connection state. The generation bump invalidates every event
// still queued for the old connection.
func (c *RoomSessionController) teardownLocked() {
	c.gen++
	if c.handle != nil {
		c.handle.ClearHandler()
		_ = c.handle.Close()
		c.handle = nil
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.participants = nil
	c.speakRequests = nil
	c.limiters = make(map[domain.UserID]*rate.Limiter)
	c.media = domain.LocalMediaState{
		Facing:               domain.FacingFront,
		NoiseFilterAvailable: c.opts.NoiseFilterAvailable,
	}
}

func (c *RoomSessionController) handlerFor(gen int) ports.TransportHandler {
	return ports.TransportHandler{
		OnConnected: func() {
			c.post(gen, func() { c.onConnected(gen) })
		},
		OnDisconnected: func(reason ports.DisconnectReason) {
			c.post(gen, func() { c.onDisconnected(gen, reason) })
		},
		OnReconnecting: func() {
			c.post(gen, func() { c.setState(gen, domain.ConnReconnecting) })
			c.metrics.ReconnectStarted()
		},
		OnReconnected: func() {
			c.post(gen, func() {
				c.setState(gen, domain.ConnConnected)
				c.refreshParticipants(gen)
				go c.replayBacklog(gen)
			})
		},
		OnParticipantJoined: func(ports.Occupant) {
			c.post(gen, func() { c.refreshParticipants(gen) })
		},
		OnParticipantLeft: func(domain.UserID) {
			c.post(gen, func() { c.refreshParticipants(gen) })
		},
		OnTrackPublished: func(id domain.UserID, kind ports.TrackKind) {
			c.post(gen, func() { c.onLocalTrackChanged(gen, id, kind, true) })
		},
		OnTrackUnpublished: func(id domain.UserID, kind ports.TrackKind) {
			c.post(gen, func() { c.onLocalTrackChanged(gen, id, kind, false) })
		},
		OnTrackMuted: func(domain.UserID, ports.TrackKind, bool) {
			c.post(gen, func() { c.refreshParticipants(gen) })
		},
		OnActiveSpeakersChange: func([]domain.UserID) {
			c.post(gen, func() { c.refreshParticipants(gen) })
		},
		OnQualityChanged: func(level domain.QualityLevel) {
			c.post(gen, func() {
				if c.callbacks.OnQualityChanged != nil {
					c.callbacks.OnQualityChanged(level)
				}
			})
		},
		OnData: func(_ domain.UserID, payload []byte) {
			c.post(gen, func() { c.handleInbound(gen, payload) })
		},
	}
}

func (c *RoomSessionController) onConnected(gen int) {
	c.setState(gen, domain.ConnConnected)
	c.refreshParticipants(gen)

	c.mu.Lock()
	handle := c.handle
	wantMic := c.opts.EnableMicOnConnect
	wantCamera := c.opts.EnableCameraOnConnect
	c.mu.Unlock()
	if handle == nil {
		return
	}
	// Publish requests run off the loop; local flags flip only when the
	// transport confirms the track event.
	if wantMic {
		go func() {
			if err := handle.PublishTrack(context.Background(), ports.TrackAudio); err != nil {
				c.reportError(apperrors.NewTransportError("failed to publish microphone", err))
			}
		}()
	}
	if wantCamera {
		go func() {
			if err := handle.PublishTrack(context.Background(), ports.TrackVideo); err != nil {
				c.reportError(apperrors.NewTransportError("failed to publish camera", err))
			}
		}()
	}
}

func (c *RoomSessionController) onDisconnected(gen int, reason ports.DisconnectReason) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.state = domain.ConnDisconnected
	c.mu.Unlock()

	switch reason {
	case ports.DisconnectParticipantKicked:
		if c.callbacks.OnRemovedFromRoom != nil {
			c.callbacks.OnRemovedFromRoom()
		}
	case ports.DisconnectRoomDeleted:
		if c.callbacks.OnRoomDeleted != nil {
			c.callbacks.OnRoomDeleted()
		}
	case ports.DisconnectDuplicateIdentity:
		if c.callbacks.OnDuplicateLogin != nil {
			c.callbacks.OnDuplicateLogin()
		}
	}
	c.notifyState(domain.ConnDisconnected)
}

func (c *RoomSessionController) setState(gen int, state domain.ConnectionState) {
	c.mu.Lock()
	if gen != c.gen || c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.notifyState(state)
}

func (c *RoomSessionController) notifyState(state domain.ConnectionState) {
	c.metrics.ConnectionStateChanged(state)
	if c.callbacks.OnStateChanged != nil {
		c.callbacks.OnStateChanged(state)
	}
}

func (c *RoomSessionController) onLocalTrackChanged(gen int, id domain.UserID, kind ports.TrackKind, published bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if id == c.opts.Identity.ID {
		switch kind {
		case ports.TrackAudio:
			c.media.MicEnabled = published
		case ports.TrackVideo:
			c.media.CameraEnabled = published
		}
	}
	c.mu.Unlock()
	c.refreshParticipants(gen)
}

// refreshParticipants rebuilds the projection whole. The slice is
// always replaced, never patched, so callers holding a previous
// snapshot never observe partial mutation.
func (c *RoomSessionController) refreshParticipants(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.handle == nil {
		c.mu.Unlock()
		return
	}

	occupants := c.handle.Roster()
	list := make([]domain.Participant, 0, len(occupants)+1)

	localRole := domain.RoleListener
	if c.opts.Identity.IsCreator {
		localRole = domain.RoleHost
	} else if c.media.CanPublish {
		localRole = domain.RoleCoHost
	}
	list = append(list, domain.Participant{
		ID:            c.opts.Identity.ID,
		Name:          c.opts.Identity.Name,
		Role:          localRole,
		Muted:         !c.media.MicEnabled,
		CameraEnabled: c.media.CameraEnabled,
		AvatarURL:     c.opts.Identity.AvatarURL,
		IsLocal:       true,
	})

	for _, o := range occupants {
		meta := domain.ParseParticipantMetadata(o.Metadata)
		role := meta.RoleOf()
		// Host implies speaking capability; a publishing listener is a
		// speaker.
		if role == domain.RoleListener && o.AudioPublished {
			role = domain.RoleCoHost
		}
		list = append(list, domain.Participant{
			ID:            o.ID,
			Name:          o.Name,
			Role:          role,
			Muted:         o.AudioMuted || !o.AudioPublished,
			CameraEnabled: o.VideoPublished,
			Speaking:      o.Speaking,
			AvatarURL:     meta.AvatarURL,
		})
	}

	c.participants = list
	snapshot := make([]domain.Participant, len(list))
	copy(snapshot, list)
	c.mu.Unlock()

	if c.callbacks.OnParticipantsChanged != nil {
		c.callbacks.OnParticipantsChanged(snapshot)
	}
}

// handleInbound processes one signal-channel payload on the dispatch
// loop. A malformed message is dropped and logged, never fatal.
func (c *RoomSessionController) handleInbound(gen int, payload []byte) {
	msg, err := domain.DecodeDataMessage(payload)
	if err != nil {
		c.metrics.DataMessageDropped("malformed")
		c.logger.Warnw("dropped malformed data message", "error", err)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if msg.Timestamp > c.lastSeenTS {
		c.lastSeenTS = msg.Timestamp
	}
	limiter, ok := c.limiters[msg.SenderID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.opts.MessagesPerSecond), c.opts.MessageBurst)
		c.limiters[msg.SenderID] = limiter
	}
	if !limiter.Allow() {
		c.mu.Unlock()
		c.metrics.DataMessageDropped("rate_limited")
		c.logger.Debugw("rate limited data message", "sender", msg.SenderID, "type", msg.Type)
		return
	}
	localID := c.opts.Identity.ID
	isHost := c.opts.Identity.IsCreator
	c.mu.Unlock()

	switch msg.Type {
	case domain.MessageHandRaise:
		if msg.SenderID == localID || !isHost {
			return
		}
		req := domain.SpeakRequest{
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			RaisedAt:   time.UnixMilli(msg.Timestamp),
		}
		c.mu.Lock()
		if gen == c.gen {
			c.speakRequests = append(c.speakRequests, req)
		}
		c.mu.Unlock()
		if c.callbacks.OnSpeakRequest != nil {
			c.callbacks.OnSpeakRequest(req)
		}

	case domain.MessageGrantSpeak:
		if msg.SenderID == localID {
			return
		}
		// A grant carrying a target is for that user only; one without a
		// target keeps the legacy broadcast behavior.
		if target := msg.TargetID(); target != "" && target != localID {
			return
		}
		c.mu.Lock()
		if gen == c.gen {
			c.media.CanPublish = true
			c.media.PushToTalk = false
		}
		c.mu.Unlock()
		if c.callbacks.OnSpeakGranted != nil {
			c.callbacks.OnSpeakGranted()
		}

	case domain.MessageRevokeSpeak:
		if msg.SenderID == localID {
			return
		}
		if target := msg.TargetID(); target != "" && target != localID {
			return
		}
		c.mu.Lock()
		var handle ports.RoomHandle
		if gen == c.gen {
			c.media.CanPublish = false
			if c.media.MicEnabled {
				handle = c.handle
			}
		}
		c.mu.Unlock()
		if handle != nil {
			go func() { _ = handle.UnpublishTrack(context.Background(), ports.TrackAudio) }()
		}
		if c.callbacks.OnSpeakRevoked != nil {
			c.callbacks.OnSpeakRevoked()
		}

	case domain.MessageChat:
		if c.callbacks.OnChat != nil {
			c.callbacks.OnChat(*msg)
		}

	default:
		// Unknown types are ignored, not errors.
	}
}

// replayBacklog re-applies reliable messages the channel retained while
// the transport was away. Entries at or before the last processed
// timestamp are skipped, so nothing already seen live is delivered
// twice.
func (c *RoomSessionController) replayBacklog(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	roomID := c.roomID
	since := c.lastSeenTS
	c.mu.Unlock()

	entries, err := c.signals.Backlog(context.Background(), roomID)
	if err != nil {
		c.logger.Warnw("backlog replay failed", "room", roomID, "error", err)
		return
	}
	replayed := 0
	for _, payload := range entries {
		msg, err := domain.DecodeDataMessage(payload)
		if err != nil || msg.Timestamp <= since {
			continue
		}
		p := payload
		c.post(gen, func() { c.handleInbound(gen, p) })
		replayed++
	}
	if replayed > 0 {
		c.logger.Infow("replayed signal backlog after reconnect", "room", roomID, "messages", replayed)
	}
}

// SendDataMessage builds and publishes one envelope over the room's
// signal channel. No-op while not connected.
func (c *RoomSessionController) SendDataMessage(ctx context.Context, msgType domain.MessageType, payload map[string]string) error {
	c.mu.Lock()
	if c.state != domain.ConnConnected {
		c.mu.Unlock()
		c.logger.Debugw("data message skipped, not connected", "type", msgType)
		return nil
	}
	roomID := c.roomID
	msg := &domain.DataMessage{
		Type:       msgType,
		SenderID:   c.opts.Identity.ID,
		SenderName: c.opts.Identity.Name,
		Payload:    payload,
		Timestamp:  time.Now().UnixMilli(),
	}
	c.mu.Unlock()

	data, err := msg.Encode()
	if err != nil {
		return apperrors.NewProtocolError("failed to encode data message", err)
	}
	if err := c.signals.Publish(ctx, roomID, data, true); err != nil {
		return apperrors.NewTransportError("failed to publish data message", err)
	}
	return nil
}

// RaiseHand asks the host for speak capability.
func (c *RoomSessionController) RaiseHand(ctx context.Context) error {
	return c.SendDataMessage(ctx, domain.MessageHandRaise, nil)
}

// GrantSpeak issues a targeted grant and clears the matching pending
// request.
func (c *RoomSessionController) GrantSpeak(ctx context.Context, target domain.UserID) error {
	if err := c.SendDataMessage(ctx, domain.MessageGrantSpeak, map[string]string{"targetId": string(target)}); err != nil {
		return err
	}
	c.metrics.SpeakGrantIssued()
	c.mu.Lock()
	kept := c.speakRequests[:0]
	for _, r := range c.speakRequests {
		if r.SenderID != target {
			kept = append(kept, r)
		}
	}
	c.speakRequests = kept
	c.mu.Unlock()
	return nil
}

// RevokeSpeak revokes a previously granted speak capability.
func (c *RoomSessionController) RevokeSpeak(ctx context.Context, target domain.UserID) error {
	return c.SendDataMessage(ctx, domain.MessageRevokeSpeak, map[string]string{"targetId": string(target)})
}

// SendChat publishes a chat envelope.
func (c *RoomSessionController) SendChat(ctx context.Context, text string) error {
	return c.SendDataMessage(ctx, domain.MessageChat, map[string]string{"text": text})
}

// ToggleMicrophone requests the transport to flip the publish state.
// The local flag reflects the change only once the transport confirms.
func (c *RoomSessionController) ToggleMicrophone(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.ConnConnected || c.handle == nil {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	desired := !c.media.MicEnabled
	if desired && !c.media.CanPublish {
		c.mu.Unlock()
		return domain.ErrCannotPublish
	}
	handle := c.handle
	c.mu.Unlock()

	var err error
	if desired {
		err = handle.PublishTrack(ctx, ports.TrackAudio)
	} else {
		err = handle.UnpublishTrack(ctx, ports.TrackAudio)
	}
	if err != nil {
		return apperrors.NewTransportError("microphone toggle failed", err)
	}
	return nil
}

// ToggleCamera mirrors ToggleMicrophone for video.
func (c *RoomSessionController) ToggleCamera(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.ConnConnected || c.handle == nil {
		c.mu.Unlock()
		return domain.ErrNotConnected
	}
	desired := !c.media.CameraEnabled
	if desired && !c.media.CanPublish {
		c.mu.Unlock()
		return domain.ErrCannotPublish
	}
	handle := c.handle
	c.mu.Unlock()

	var err error
	if desired {
		err = handle.PublishTrack(ctx, ports.TrackVideo)
	} else {
		err = handle.UnpublishTrack(ctx, ports.TrackVideo)
	}
	if err != nil {
		return apperrors.NewTransportError("camera toggle failed", err)
	}
	return nil
}

// SwitchCameraFacing flips the facing flag. The transport applies the
// switch on the next frame; no publish state changes.
func (c *RoomSessionController) SwitchCameraFacing() domain.CameraFacing {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.media.Facing == domain.FacingFront {
		c.media.Facing = domain.FacingBack
	} else {
		c.media.Facing = domain.FacingFront
	}
	return c.media.Facing
}

// SetPushToTalk switches push-to-talk mode. Granted speakers leave the
// mode automatically when a grant arrives.
func (c *RoomSessionController) SetPushToTalk(enabled bool) {
	c.mu.Lock()
	c.media.PushToTalk = enabled
	c.mu.Unlock()
}

func (c *RoomSessionController) reportError(err error) {
	c.logger.Warnw("room session error", "error", err)
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

func (c *RoomSessionController) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *RoomSessionController) LocalMedia() domain.LocalMediaState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media
}

// Participants returns the current projection snapshot.
func (c *RoomSessionController) Participants() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Participant, len(c.participants))
	copy(out, c.participants)
	return out
}

// PendingSpeakRequests returns hand-raises awaiting a host decision, in
// arrival order.
func (c *RoomSessionController) PendingSpeakRequests() []domain.SpeakRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.SpeakRequest, len(c.speakRequests))
	copy(out, c.speakRequests)
	return out
}
