package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"
	apperrors "liveroom/pkg/errors"
	"liveroom/pkg/tracing"

	"go.uber.org/zap"
)

// CoordinatorConfig bundles the per-session tunables.
type CoordinatorConfig struct {
	CallRingTimeout      time.Duration
	HostGracePeriod      time.Duration
	QualityThreshold     time.Duration
	MessagesPerSecond    float64
	MessageBurst         int
	NoiseFilterAvailable bool
}

// CoordinatorCallbacks aggregate the user-facing surface of one
// session.
type CoordinatorCallbacks struct {
	Room  RoomSessionCallbacks
	Call  CallCallbacks
	Guest GuestCallbacks

	OnHostCountdown     func(remainingSeconds int)
	OnHostBack          func()
	OnQualityWarning    func(message string)
	OnQualityRecovered  func()
	OnSessionTerminated func()
}

// SessionLifecycleCoordinator wires the controllers around one logical
// session id, translating backend records into controller inputs.
type SessionLifecycleCoordinator struct {
	backend   ports.Backend
	transport ports.RoomTransport
	signals   ports.SignalChannel
	notify    ports.NotificationChannel
	metrics   Metrics
	logger    *zap.SugaredLogger
	identity  domain.Identity
	config    CoordinatorConfig
	callbacks CoordinatorCallbacks

	call *CallController

	mu          sync.Mutex
	session     *domain.Session
	room        *RoomSessionController
	guests      *GuestInvitationController
	watchdog    *HostDisconnectWatchdog
	quality     *ConnectionQualityMonitor
	unsubscribe func()
}

func NewSessionLifecycleCoordinator(
	backend ports.Backend,
	transport ports.RoomTransport,
	signals ports.SignalChannel,
	notify ports.NotificationChannel,
	metrics Metrics,
	logger *zap.SugaredLogger,
	identity domain.Identity,
	config CoordinatorConfig,
	callbacks CoordinatorCallbacks,
) *SessionLifecycleCoordinator {
	if metrics == nil {
		metrics = NopMetrics()
	}
	c := &SessionLifecycleCoordinator{
		backend:   backend,
		transport: transport,
		signals:   signals,
		notify:    notify,
		metrics:   metrics,
		logger:    logger,
		identity:  identity,
		config:    config,
		callbacks: callbacks,
	}
	c.call = NewCallController(backend, metrics, logger, identity, config.CallRingTimeout, callbacks.Call)
	return c
}

// Start subscribes to the per-user notification channel. Must be called
// once before any session or call activity.
func (c *SessionLifecycleCoordinator) Start(ctx context.Context) error {
	unsub, err := c.notify.Subscribe(ctx, c.identity.ID, c.route)
	if err != nil {
		return apperrors.NewTransportError("failed to subscribe to notifications", err)
	}
	c.mu.Lock()
	c.unsubscribe = unsub
	c.mu.Unlock()
	return nil
}

// route fans one notification out to the controller that owns it.
func (c *SessionLifecycleCoordinator) route(n ports.Notification) {
	switch n.Kind {
	case ports.NotifyRinging, ports.NotifyCallStatus:
		c.call.HandleNotification(n)

	case ports.NotifyGuestInvitation, ports.NotifyJoinRequest,
		ports.NotifyJoinRequestResponse, ports.NotifyYourGuestEnded:
		c.mu.Lock()
		guests := c.guests
		c.mu.Unlock()
		if guests != nil {
			guests.HandleNotification(n)
		}

	case ports.NotifyHostDisconnected:
		c.mu.Lock()
		watchdog := c.watchdog
		c.mu.Unlock()
		if watchdog != nil {
			watchdog.HostDisconnected()
		}

	case ports.NotifyHostReconnected:
		c.mu.Lock()
		watchdog := c.watchdog
		c.mu.Unlock()
		if watchdog != nil {
			watchdog.HostReconnected()
		}

	case ports.NotifySessionEnded:
		c.onSessionEnded()

	default:
		c.logger.Debugw("ignoring unknown notification", "kind", n.Kind)
	}
}

// CreateSession creates a backend session record and connects to its
// room as the creator.
func (c *SessionLifecycleCoordinator) CreateSession(ctx context.Context, params ports.CreateSessionParams) (*domain.Session, error) {
	ctx, span := tracing.TraceSessionOperation(ctx, "create", "")
	defer span.End()

	params.CreatorID = c.identity.ID
	session, err := c.backend.CreateSession(ctx, params)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, apperrors.NewBackendRequestError("failed to create session", err)
	}

	identity := c.identity
	identity.IsCreator = true
	if err := c.attach(ctx, session, identity, true); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	c.metrics.SessionStarted()
	return session, nil
}

// JoinSession joins an existing session as a viewer.
func (c *SessionLifecycleCoordinator) JoinSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	ctx, span := tracing.TraceSessionOperation(ctx, "join", string(id))
	defer span.End()

	session, err := c.backend.JoinSession(ctx, id)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, apperrors.NewBackendRequestError("failed to join session", err)
	}
	if session.Status == domain.SessionEnded {
		return nil, domain.ErrSessionEnded
	}

	identity := c.identity
	identity.IsCreator = false
	if err := c.attach(ctx, session, identity, false); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return session, nil
}

// attach builds the per-session controllers and opens the room
// connection.
func (c *SessionLifecycleCoordinator) attach(ctx context.Context, session *domain.Session, identity domain.Identity, asCreator bool) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return fmt.Errorf("already attached to session %s", c.session.ID)
	}
	c.session = session

	roomCallbacks := c.callbacks.Room
	userQuality := roomCallbacks.OnQualityChanged

	c.quality = NewConnectionQualityMonitor(
		c.logger,
		c.config.QualityThreshold,
		c.callbacks.OnQualityWarning,
		c.callbacks.OnQualityRecovered,
	)
	quality := c.quality
	roomCallbacks.OnQualityChanged = func(level domain.QualityLevel) {
		quality.Observe(level)
		if userQuality != nil {
			userQuality(level)
		}
	}

	c.watchdog = NewHostDisconnectWatchdog(
		c.logger,
		c.config.HostGracePeriod,
		c.callbacks.OnHostCountdown,
		c.callbacks.OnHostBack,
	)
	c.guests = NewGuestInvitationController(c.backend, c.logger, identity, session.ID, c.callbacks.Guest)

	c.room = NewRoomSessionController(
		c.transport, c.signals, c.backend, c.metrics, c.logger,
		RoomSessionOptions{
			RoomName:              string(session.RoomID),
			SessionID:             session.ID,
			Identity:              identity,
			EnableMicOnConnect:    asCreator,
			EnableCameraOnConnect: asCreator && session.Kind == domain.SessionKindAudioVideo,
			NoiseFilterAvailable:  c.config.NoiseFilterAvailable,
			MessagesPerSecond:     c.config.MessagesPerSecond,
			MessageBurst:          c.config.MessageBurst,
		},
		roomCallbacks,
	)
	room := c.room
	c.mu.Unlock()

	if err := room.Connect(ctx); err != nil {
		c.detach()
		return err
	}
	return nil
}

// LeaveSession disconnects without ending the session for others.
func (c *SessionLifecycleCoordinator) LeaveSession(ctx context.Context) error {
	ctx, span := tracing.TraceSessionOperation(ctx, "leave", string(c.sessionID()))
	defer span.End()

	c.detach()
	return nil
}

// EndSession ends the backend session record and tears down.
func (c *SessionLifecycleCoordinator) EndSession(ctx context.Context) error {
	id := c.sessionID()
	ctx, span := tracing.TraceSessionOperation(ctx, "end", string(id))
	defer span.End()

	if id == "" {
		return domain.ErrSessionEnded
	}
	if err := c.backend.EndSession(ctx, id); err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewBackendRequestError("failed to end session", err)
	}
	c.detach()
	c.metrics.SessionEnded()
	return nil
}

// onSessionEnded reacts to the backend declaring the session over.
func (c *SessionLifecycleCoordinator) onSessionEnded() {
	c.mu.Lock()
	watchdog := c.watchdog
	c.mu.Unlock()
	if watchdog != nil {
		watchdog.SessionEnded()
	}
	c.detach()
	if c.callbacks.OnSessionTerminated != nil {
		c.callbacks.OnSessionTerminated()
	}
}

// detach tears down per-session controllers in order: listeners off,
// connection closed, timers cleared.
func (c *SessionLifecycleCoordinator) detach() {
	c.mu.Lock()
	room := c.room
	watchdog := c.watchdog
	quality := c.quality
	c.session = nil
	c.room = nil
	c.guests = nil
	c.watchdog = nil
	c.quality = nil
	c.mu.Unlock()

	if room != nil {
		room.Close()
	}
	if watchdog != nil {
		watchdog.Close()
	}
	if quality != nil {
		quality.Close()
	}
}

// Close tears everything down including the notification subscription.
func (c *SessionLifecycleCoordinator) Close() {
	c.detach()
	c.call.Close()
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *SessionLifecycleCoordinator) sessionID() domain.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

// SessionID returns the attached session id, empty when detached.
func (c *SessionLifecycleCoordinator) SessionID() domain.SessionID {
	return c.sessionID()
}

// Calls exposes the 1:1 call state machine, which runs independently of
// any room session.
func (c *SessionLifecycleCoordinator) Calls() *CallController { return c.call }

// Room exposes the active room controller, nil when detached.
func (c *SessionLifecycleCoordinator) Room() *RoomSessionController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Guests exposes the active guest controller, nil when detached.
func (c *SessionLifecycleCoordinator) Guests() *GuestInvitationController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guests
}

// Snapshot assembles the read-only view served by the HTTP layer.
func (c *SessionLifecycleCoordinator) Snapshot() ports.SessionSnapshot {
	c.mu.Lock()
	session := c.session
	room := c.room
	watchdog := c.watchdog
	quality := c.quality
	c.mu.Unlock()

	snap := ports.SessionSnapshot{Connection: domain.ConnDisconnected}
	if session != nil {
		s := *session
		snap.Session = &s
	}
	if room != nil {
		snap.Connection = room.State()
		snap.Participants = room.Participants()
		snap.LocalMedia = room.LocalMedia()
	}
	if quality != nil {
		snap.QualityLevel = quality.Level()
		snap.QualityBars = quality.Bars()
		snap.QualityAlert = quality.WarningActive()
	}
	if watchdog != nil {
		if st := watchdog.State(); st != nil {
			snap.HostCountdown = st.RemainingSeconds
		}
	}
	return snap
}
