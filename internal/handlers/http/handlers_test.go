package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"
	"liveroom/internal/core/services"
	"liveroom/internal/infrastructure/middleware"
	pkglogger "liveroom/pkg/logger"
)

type stubHandle struct{}

func (stubHandle) SetHandler(ports.TransportHandler)                     {}
func (stubHandle) ClearHandler()                                         {}
func (stubHandle) PublishTrack(context.Context, ports.TrackKind) error   { return nil }
func (stubHandle) UnpublishTrack(context.Context, ports.TrackKind) error { return nil }
func (stubHandle) Roster() []ports.Occupant                              { return nil }
func (stubHandle) Close() error                                          { return nil }

type stubTransport struct{}

func (stubTransport) Open(context.Context, string, ports.TransportCredentials, domain.Identity) (ports.RoomHandle, error) {
	return stubHandle{}, nil
}

type stubSignals struct{}

func (stubSignals) Publish(context.Context, domain.RoomID, []byte, bool) error { return nil }
func (stubSignals) Subscribe(context.Context, domain.RoomID, func([]byte)) (func(), error) {
	return func() {}, nil
}
func (stubSignals) Backlog(context.Context, domain.RoomID) ([][]byte, error) { return nil, nil }

type stubNotify struct{}

func (stubNotify) PublishTo(context.Context, domain.UserID, ports.Notification) error { return nil }
func (stubNotify) Subscribe(context.Context, domain.UserID, func(ports.Notification)) (func(), error) {
	return func() {}, nil
}

type stubBackend struct {
	endedSession bool
}

func (b *stubBackend) CreateSession(_ context.Context, params ports.CreateSessionParams) (*domain.Session, error) {
	return &domain.Session{
		ID:        "s1",
		RoomID:    "room-s1",
		Title:     params.Title,
		Kind:      params.Kind,
		Access:    params.Access,
		CreatorID: params.CreatorID,
		StartedAt: time.Now(),
		Status:    domain.SessionLive,
	}, nil
}

func (b *stubBackend) JoinSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	status := domain.SessionLive
	if b.endedSession {
		status = domain.SessionEnded
	}
	return &domain.Session{ID: id, RoomID: domain.RoomID("room-" + id), CreatorID: "host", Status: status}, nil
}

func (b *stubBackend) EndSession(context.Context, domain.SessionID) error { return nil }

func (b *stubBackend) IssueRoomToken(context.Context, string, domain.Identity, bool) (ports.TransportCredentials, error) {
	return ports.TransportCredentials{URL: "wss://gw", Token: "tok"}, nil
}

func (b *stubBackend) CreateCall(_ context.Context, callerID, calleeID domain.UserID, kind domain.CallKind) (*domain.Call, error) {
	return &domain.Call{ID: "c1", CallerID: callerID, CalleeID: calleeID, Kind: kind}, nil
}

func (b *stubBackend) UpdateCallStatus(context.Context, domain.CallID, string) error { return nil }

func (b *stubBackend) InviteGuest(context.Context, domain.SessionID, domain.Identity, domain.UserID) error {
	return nil
}

func (b *stubBackend) CreateJoinRequest(_ context.Context, _ domain.SessionID, requester domain.Identity, message string) (*domain.JoinRequest, error) {
	return &domain.JoinRequest{ID: "r1", RequesterID: requester.ID, Name: requester.Name, Message: message}, nil
}

func (b *stubBackend) CancelJoinRequest(context.Context, domain.SessionID, string) error { return nil }
func (b *stubBackend) RespondToJoinRequest(context.Context, domain.SessionID, string, bool) error {
	return nil
}
func (b *stubBackend) EndGuest(context.Context, domain.SessionID, domain.UserID) error { return nil }

type testServer struct {
	router *gin.Engine
	tokens *services.TokenService
}

func newTestServer(t *testing.T, backend ports.Backend) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t).Sugar()
	tokens := services.NewTokenService("test-secret", time.Hour)

	registry := NewCoordinatorRegistry(func(identity domain.Identity) *services.SessionLifecycleCoordinator {
		return services.NewSessionLifecycleCoordinator(
			backend, stubTransport{}, stubSignals{}, stubNotify{}, nil, logger, identity,
			services.CoordinatorConfig{
				CallRingTimeout:   time.Minute,
				HostGracePeriod:   30 * time.Second,
				QualityThreshold:  5 * time.Second,
				MessagesPerSecond: 10,
				MessageBurst:      20,
			},
			services.CoordinatorCallbacks{},
		)
	})
	t.Cleanup(registry.Close)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(pkglogger.NewContextLogger(zaptest.NewLogger(t))))

	api := router.Group("/api/v1", middleware.AuthMiddleware(tokens))
	NewSessionHandler(registry).SetupRoutes(api)
	NewCallHandler(registry).SetupRoutes(api)
	NewGuestHandler(registry).SetupRoutes(api)
	NewAuthHandler(tokens).SetupRoutes(router)

	return &testServer{router: router, tokens: tokens}
}

func (s *testServer) request(t *testing.T, method, path, body string, identity *domain.Identity) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	if identity != nil {
		token, err := s.tokens.IssueAPIToken(*identity)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestCreateSessionEndpoint(t *testing.T) {
	server := newTestServer(t, &stubBackend{})

	w := server.request(t, http.MethodPost, "/api/v1/sessions",
		`{"title":"morning show","kind":"audio","chat_enabled":true}`,
		&domain.Identity{ID: "host", Name: "Host"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Session struct {
			ID     string `json:"ID"`
			Status string `json:"Status"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.Session.ID)
	assert.Equal(t, "live", resp.Session.Status)
}

func TestCreateSessionRequiresAuth(t *testing.T) {
	server := newTestServer(t, &stubBackend{})

	w := server.request(t, http.MethodPost, "/api/v1/sessions",
		`{"title":"show","kind":"audio"}`, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSessionRejectsUnknownKind(t *testing.T) {
	server := newTestServer(t, &stubBackend{})

	w := server.request(t, http.MethodPost, "/api/v1/sessions",
		`{"title":"show","kind":"hologram"}`,
		&domain.Identity{ID: "host"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJoinEndedSessionRefused(t *testing.T) {
	server := newTestServer(t, &stubBackend{endedSession: true})

	w := server.request(t, http.MethodPost, "/api/v1/sessions/s9/join", "",
		&domain.Identity{ID: "viewer"})

	assert.Equal(t, http.StatusGone, w.Code)
}

func TestSnapshotWithoutSession(t *testing.T) {
	server := newTestServer(t, &stubBackend{})

	w := server.request(t, http.MethodGet, "/api/v1/session/snapshot", "",
		&domain.Identity{ID: "viewer"})

	assert.Equal(t, http.StatusOK, w.Code)

	var snap ports.SessionSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, domain.ConnDisconnected, snap.Connection)
	assert.Nil(t, snap.Session)
}

func TestChatWithoutSessionConflicts(t *testing.T) {
	server := newTestServer(t, &stubBackend{})

	w := server.request(t, http.MethodPost, "/api/v1/session/chat",
		`{"text":"hello"}`, &domain.Identity{ID: "viewer"})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t, &stubBackend{})
	host := &domain.Identity{ID: "host", Name: "Host"}

	w := server.request(t, http.MethodPost, "/api/v1/sessions",
		`{"title":"show","kind":"audio"}`, host)
	require.Equal(t, http.StatusCreated, w.Code)

	w = server.request(t, http.MethodGet, "/api/v1/session/snapshot", "", host)
	require.Equal(t, http.StatusOK, w.Code)
	var snap ports.SessionSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.NotNil(t, snap.Session)
	assert.Equal(t, domain.SessionID("s1"), snap.Session.ID)

	w = server.request(t, http.MethodPost, "/api/v1/session/end", "", host)
	assert.Equal(t, http.StatusOK, w.Code)

	w = server.request(t, http.MethodGet, "/api/v1/session/snapshot", "", host)
	require.Equal(t, http.StatusOK, w.Code)
	var after ports.SessionSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	assert.Nil(t, after.Session)
}

func TestInitiateCallEndpoint(t *testing.T) {
	server := newTestServer(t, &stubBackend{})

	w := server.request(t, http.MethodPost, "/api/v1/calls",
		`{"callee_id":"bob","kind":"audio"}`, &domain.Identity{ID: "alice"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "c1")
}

func TestAcceptWithoutIncomingCallConflicts(t *testing.T) {
	server := newTestServer(t, &stubBackend{})

	w := server.request(t, http.MethodPost, "/api/v1/calls/accept", "",
		&domain.Identity{ID: "alice"})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGuestRoutesWithoutSessionConflict(t *testing.T) {
	server := newTestServer(t, &stubBackend{})

	w := server.request(t, http.MethodPost, "/api/v1/session/guests/invite",
		`{"user_id":"bob"}`, &domain.Identity{ID: "host"})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIssueTokenEndpoint(t *testing.T) {
	server := newTestServer(t, &stubBackend{})

	w := server.request(t, http.MethodPost, "/api/v1/auth/token",
		`{"name":"Alice"}`, nil)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		UserID      string `json:"user_id"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.UserID)

	identity, err := server.tokens.ValidateAPIToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Alice", identity.Name)
}
