package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"
)

// fakeHandle is an in-memory ports.RoomHandle that lets tests fire
// transport events.
type fakeHandle struct {
	mu        sync.Mutex
	handler   ports.TransportHandler
	identity  domain.Identity
	room      string
	roster    []ports.Occupant
	published map[ports.TrackKind]bool
	closed    bool
}

func newFakeHandle(identity domain.Identity) *fakeHandle {
	return &fakeHandle{
		identity:  identity,
		published: make(map[ports.TrackKind]bool),
	}
}

func (h *fakeHandle) SetHandler(handler ports.TransportHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *fakeHandle) ClearHandler() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = ports.TransportHandler{}
}

func (h *fakeHandle) currentHandler() ports.TransportHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handler
}

func (h *fakeHandle) PublishTrack(_ context.Context, kind ports.TrackKind) error {
	h.mu.Lock()
	h.published[kind] = true
	id := h.identity.ID
	handler := h.handler
	h.mu.Unlock()
	if handler.OnTrackPublished != nil {
		handler.OnTrackPublished(id, kind)
	}
	return nil
}

func (h *fakeHandle) UnpublishTrack(_ context.Context, kind ports.TrackKind) error {
	h.mu.Lock()
	h.published[kind] = false
	id := h.identity.ID
	handler := h.handler
	h.mu.Unlock()
	if handler.OnTrackUnpublished != nil {
		handler.OnTrackUnpublished(id, kind)
	}
	return nil
}

func (h *fakeHandle) Roster() []ports.Occupant {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ports.Occupant, len(h.roster))
	copy(out, h.roster)
	return out
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Event helpers used by tests.

func (h *fakeHandle) emitConnected() {
	if fn := h.currentHandler().OnConnected; fn != nil {
		fn()
	}
}

func (h *fakeHandle) emitDisconnected(reason ports.DisconnectReason) {
	if fn := h.currentHandler().OnDisconnected; fn != nil {
		fn(reason)
	}
}

func (h *fakeHandle) emitReconnecting() {
	if fn := h.currentHandler().OnReconnecting; fn != nil {
		fn()
	}
}

func (h *fakeHandle) emitReconnected() {
	if fn := h.currentHandler().OnReconnected; fn != nil {
		fn()
	}
}

func (h *fakeHandle) addOccupant(o ports.Occupant) {
	h.mu.Lock()
	h.roster = append(h.roster, o)
	handler := h.handler
	h.mu.Unlock()
	if handler.OnParticipantJoined != nil {
		handler.OnParticipantJoined(o)
	}
}

func (h *fakeHandle) removeOccupant(id domain.UserID) {
	h.mu.Lock()
	kept := h.roster[:0]
	for _, o := range h.roster {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	h.roster = kept
	handler := h.handler
	h.mu.Unlock()
	if handler.OnParticipantLeft != nil {
		handler.OnParticipantLeft(id)
	}
}

func (h *fakeHandle) emitQuality(level domain.QualityLevel) {
	if fn := h.currentHandler().OnQualityChanged; fn != nil {
		fn(level)
	}
}

// fakeTransport hands out fakeHandles and counts opens.
type fakeTransport struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	failOpen error
}

func (t *fakeTransport) Open(_ context.Context, roomName string, _ ports.TransportCredentials, identity domain.Identity) (ports.RoomHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failOpen != nil {
		return nil, t.failOpen
	}
	h := newFakeHandle(identity)
	h.room = roomName
	t.handles = append(t.handles, h)
	return h, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

func (t *fakeTransport) last() *fakeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.handles) == 0 {
		return nil
	}
	return t.handles[len(t.handles)-1]
}

// fakeSignalBus delivers room-scoped payloads synchronously to every
// subscriber, including the sender.
type fakeSignalBus struct {
	mu      sync.Mutex
	subs    map[domain.RoomID]map[int]func([]byte)
	backlog map[domain.RoomID][][]byte
	next    int
}

func newFakeSignalBus() *fakeSignalBus {
	return &fakeSignalBus{
		subs:    make(map[domain.RoomID]map[int]func([]byte)),
		backlog: make(map[domain.RoomID][][]byte),
	}
}

func (b *fakeSignalBus) Publish(_ context.Context, roomID domain.RoomID, payload []byte, reliable bool) error {
	b.mu.Lock()
	if reliable {
		b.backlog[roomID] = append(b.backlog[roomID], payload)
	}
	var fns []func([]byte)
	for _, fn := range b.subs[roomID] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
	return nil
}

func (b *fakeSignalBus) Backlog(_ context.Context, roomID domain.RoomID) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.backlog[roomID]))
	copy(out, b.backlog[roomID])
	return out, nil
}

// stash retains a payload without delivering it, standing in for a
// message published while the local subscriber was away.
func (b *fakeSignalBus) stash(roomID domain.RoomID, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backlog[roomID] = append(b.backlog[roomID], payload)
}

func (b *fakeSignalBus) Subscribe(_ context.Context, roomID domain.RoomID, onMessage func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[int]func([]byte))
	}
	id := b.next
	b.next++
	b.subs[roomID][id] = onMessage
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[roomID], id)
	}, nil
}

// fakeNotifyBus is the per-user notification channel.
type fakeNotifyBus struct {
	mu   sync.Mutex
	subs map[domain.UserID]map[int]func(ports.Notification)
	next int
}

func newFakeNotifyBus() *fakeNotifyBus {
	return &fakeNotifyBus{subs: make(map[domain.UserID]map[int]func(ports.Notification))}
}

func (b *fakeNotifyBus) PublishTo(_ context.Context, userID domain.UserID, n ports.Notification) error {
	b.mu.Lock()
	var fns []func(ports.Notification)
	for _, fn := range b.subs[userID] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
	return nil
}

func (b *fakeNotifyBus) Subscribe(_ context.Context, userID domain.UserID, onNotification func(ports.Notification)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]func(ports.Notification))
	}
	id := b.next
	b.next++
	b.subs[userID][id] = onNotification
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[userID], id)
	}, nil
}

// fakeBackend implements ports.Backend in memory. When notify is set,
// guest flows deliver the matching notifications like the real backend
// does.
type fakeBackend struct {
	mu     sync.Mutex
	notify *fakeNotifyBus

	failIssueToken  error
	failCreateCall  error
	failSession     error
	failJoinRequest error

	sessions     map[domain.SessionID]*domain.Session
	callStatuses []string
	joinRequests map[string]domain.JoinRequest
	reqSeq       int
	callSeq      int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions:     make(map[domain.SessionID]*domain.Session),
		joinRequests: make(map[string]domain.JoinRequest),
	}
}

func (b *fakeBackend) CreateSession(_ context.Context, params ports.CreateSessionParams) (*domain.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSession != nil {
		return nil, b.failSession
	}
	id := domain.SessionID(fmt.Sprintf("session-%d", len(b.sessions)+1))
	s := &domain.Session{
		ID:        id,
		RoomID:    domain.RoomID("room-" + string(id)),
		Title:     params.Title,
		Kind:      params.Kind,
		Access:    params.Access,
		CreatorID: params.CreatorID,
		StartedAt: time.Now(),
		Status:    domain.SessionLive,
	}
	b.sessions[id] = s
	copied := *s
	return &copied, nil
}

func (b *fakeBackend) JoinSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSession != nil {
		return nil, b.failSession
	}
	s, ok := b.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	copied := *s
	return &copied, nil
}

func (b *fakeBackend) EndSession(_ context.Context, id domain.SessionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		s.Status = domain.SessionEnded
	}
	return nil
}

func (b *fakeBackend) IssueRoomToken(_ context.Context, roomName string, identity domain.Identity, _ bool) (ports.TransportCredentials, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failIssueToken != nil {
		return ports.TransportCredentials{}, b.failIssueToken
	}
	return ports.TransportCredentials{
		URL:   "fake://transport",
		Token: "token-" + roomName + "-" + string(identity.ID),
	}, nil
}

func (b *fakeBackend) CreateCall(_ context.Context, callerID, calleeID domain.UserID, kind domain.CallKind) (*domain.Call, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCreateCall != nil {
		return nil, b.failCreateCall
	}
	b.callSeq++
	return &domain.Call{
		ID:       domain.CallID(fmt.Sprintf("call-%d", b.callSeq)),
		RoomID:   domain.RoomID(fmt.Sprintf("callroom-%d", b.callSeq)),
		CallerID: callerID,
		CalleeID: calleeID,
		Kind:     kind,
		Status:   "ringing",
	}, nil
}

func (b *fakeBackend) UpdateCallStatus(_ context.Context, _ domain.CallID, status string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callStatuses = append(b.callStatuses, status)
	return nil
}

func (b *fakeBackend) recordedCallStatuses() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.callStatuses))
	copy(out, b.callStatuses)
	return out
}

func (b *fakeBackend) InviteGuest(ctx context.Context, sessionID domain.SessionID, host domain.Identity, targetUserID domain.UserID) error {
	if b.notify == nil {
		return nil
	}
	inv := domain.GuestInvitation{
		SessionID: sessionID,
		HostID:    host.ID,
		HostName:  host.Name,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	payload, _ := json.Marshal(inv)
	return b.notify.PublishTo(ctx, targetUserID, ports.Notification{
		Kind:    ports.NotifyGuestInvitation,
		Payload: payload,
	})
}

func (b *fakeBackend) CreateJoinRequest(ctx context.Context, sessionID domain.SessionID, requester domain.Identity, message string) (*domain.JoinRequest, error) {
	b.mu.Lock()
	if b.failJoinRequest != nil {
		b.mu.Unlock()
		return nil, b.failJoinRequest
	}
	b.reqSeq++
	req := domain.JoinRequest{
		ID:          fmt.Sprintf("req-%d", b.reqSeq),
		RequesterID: requester.ID,
		Name:        requester.Name,
		Message:     message,
		RequestedAt: time.Now(),
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	b.joinRequests[req.ID] = req
	var hostID domain.UserID
	if s, ok := b.sessions[sessionID]; ok {
		hostID = s.CreatorID
	}
	b.mu.Unlock()

	if b.notify != nil && hostID != "" {
		payload, _ := json.Marshal(req)
		_ = b.notify.PublishTo(ctx, hostID, ports.Notification{
			Kind:    ports.NotifyJoinRequest,
			Payload: payload,
		})
	}
	copied := req
	return &copied, nil
}

func (b *fakeBackend) CancelJoinRequest(_ context.Context, _ domain.SessionID, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.joinRequests, requestID)
	return nil
}

func (b *fakeBackend) RespondToJoinRequest(ctx context.Context, _ domain.SessionID, requestID string, approve bool) error {
	b.mu.Lock()
	req, ok := b.joinRequests[requestID]
	delete(b.joinRequests, requestID)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("join request %s not found", requestID)
	}
	if b.notify != nil {
		payload, _ := json.Marshal(map[string]bool{"approved": approve})
		_ = b.notify.PublishTo(ctx, req.RequesterID, ports.Notification{
			Kind:    ports.NotifyJoinRequestResponse,
			Payload: payload,
		})
	}
	return nil
}

func (b *fakeBackend) EndGuest(ctx context.Context, _ domain.SessionID, userID domain.UserID) error {
	if b.notify != nil {
		return b.notify.PublishTo(ctx, userID, ports.Notification{Kind: ports.NotifyYourGuestEnded})
	}
	return nil
}
