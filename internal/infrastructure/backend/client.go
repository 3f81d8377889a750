package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"
	"liveroom/pkg/cache"
	"liveroom/pkg/circuitbreaker"
	apperrors "liveroom/pkg/errors"
	"liveroom/pkg/retry"

	"go.uber.org/zap"
)

// Config carries the backend API connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Retry      retry.Config
	Breaker    circuitbreaker.Config
	GatewayURL string
}

// Client is the HTTP implementation of ports.Backend. Requests are
// wrapped in retry with backoff and a circuit breaker; a tripped
// breaker fails fast instead of queueing against a dead backend.
type Client struct {
	config  Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	tokens  TokenIssuer
	creds   *cache.Cache
	logger  *zap.SugaredLogger
}

// credentialCacheTTL must stay below the room token lifetime so a
// cached token is never handed out close to expiry.
const credentialCacheTTL = 30 * time.Second

// TokenIssuer mints transport credentials. The token service in the
// core provides it; the client only binds issued tokens to the
// gateway URL.
type TokenIssuer interface {
	IssueRoomToken(roomName string, identity domain.Identity, canPublish bool) (string, error)
}

func NewClient(config Config, tokens TokenIssuer, logger *zap.SugaredLogger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultConfig()
	}
	breaker := circuitbreaker.New(config.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("backend circuit breaker state changed", "from", from.String(), "to", to.String())
	})
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: breaker,
		tokens:  tokens,
		creds:   cache.New(credentialCacheTTL),
		logger:  logger,
	}
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// do runs one request through the breaker and retry stack and decodes
// the response envelope into out (when out is non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal request body")
		}
	}

	return c.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.config.Retry, func() error {
			return c.once(ctx, method, path, payload, out)
		})
	})
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode response envelope: status %d: %w", resp.StatusCode, err)
	}
	if !env.Success {
		code, message := "unknown", "backend reported failure"
		if env.Error != nil {
			code, message = env.Error.Code, env.Error.Message
		}
		return fmt.Errorf("backend error %s: %s", code, message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// sessionRecord is the backend's session representation on the wire.
type sessionRecord struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"roomId"`
	Title         string    `json:"title"`
	Kind          string    `json:"kind"`
	Access        string    `json:"access"`
	ChatEnabled   bool      `json:"chatEnabled"`
	GiftsEnabled  bool      `json:"giftsEnabled"`
	GuestsEnabled bool      `json:"guestsEnabled"`
	CreatorID     string    `json:"creatorId"`
	StartedAt     time.Time `json:"startedAt"`
	Status        string    `json:"status"`
}

func (r sessionRecord) toDomain() *domain.Session {
	return &domain.Session{
		ID:            domain.SessionID(r.ID),
		RoomID:        domain.RoomID(r.RoomID),
		Title:         r.Title,
		Kind:          domain.SessionKind(r.Kind),
		Access:        domain.AccessPolicy(r.Access),
		ChatEnabled:   r.ChatEnabled,
		GiftsEnabled:  r.GiftsEnabled,
		GuestsEnabled: r.GuestsEnabled,
		CreatorID:     domain.UserID(r.CreatorID),
		StartedAt:     r.StartedAt,
		Status:        domain.SessionStatus(r.Status),
	}
}

func (c *Client) CreateSession(ctx context.Context, params ports.CreateSessionParams) (*domain.Session, error) {
	var record sessionRecord
	err := c.do(ctx, http.MethodPost, "/v1/sessions", map[string]interface{}{
		"title":         params.Title,
		"kind":          string(params.Kind),
		"access":        string(params.Access),
		"chatEnabled":   params.ChatEnabled,
		"giftsEnabled":  params.GiftsEnabled,
		"guestsEnabled": params.GuestsEnabled,
		"creatorId":     string(params.CreatorID),
	}, &record)
	if err != nil {
		return nil, err
	}
	return record.toDomain(), nil
}

func (c *Client) JoinSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var record sessionRecord
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+string(id)+"/join", nil, &record); err != nil {
		return nil, err
	}
	return record.toDomain(), nil
}

func (c *Client) EndSession(ctx context.Context, id domain.SessionID) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+string(id)+"/end", nil, nil)
}

// IssueRoomToken mints the transport credentials locally; the gateway
// shares the signing secret. Credentials are cached per room and
// identity so reconnect storms reuse the same token instead of
// re-signing one per attempt. The cache TTL stays well below the
// token lifetime.
func (c *Client) IssueRoomToken(ctx context.Context, roomName string, identity domain.Identity, canPublish bool) (ports.TransportCredentials, error) {
	key := fmt.Sprintf("creds|%s|%s|%t", roomName, identity.ID, canPublish)
	value, err := c.creds.GetOrSet(ctx, key, credentialCacheTTL, func(context.Context) (interface{}, error) {
		token, err := c.tokens.IssueRoomToken(roomName, identity, canPublish)
		if err != nil {
			return nil, fmt.Errorf("failed to issue room token: %w", err)
		}
		return ports.TransportCredentials{URL: c.config.GatewayURL, Token: token}, nil
	})
	if err != nil {
		return ports.TransportCredentials{}, err
	}
	return value.(ports.TransportCredentials), nil
}

// Close releases client resources.
func (c *Client) Close() {
	c.creds.Stop()
}

func (c *Client) CreateCall(ctx context.Context, callerID, calleeID domain.UserID, kind domain.CallKind) (*domain.Call, error) {
	var record struct {
		ID       string `json:"id"`
		RoomID   string `json:"roomId"`
		CallerID string `json:"callerId"`
		CalleeID string `json:"calleeId"`
		Kind     string `json:"kind"`
		Status   string `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/calls", map[string]string{
		"callerId": string(callerID),
		"calleeId": string(calleeID),
		"kind":     string(kind),
	}, &record)
	if err != nil {
		return nil, err
	}
	return &domain.Call{
		ID:       domain.CallID(record.ID),
		RoomID:   domain.RoomID(record.RoomID),
		CallerID: domain.UserID(record.CallerID),
		CalleeID: domain.UserID(record.CalleeID),
		Kind:     domain.CallKind(record.Kind),
		Status:   record.Status,
	}, nil
}

func (c *Client) UpdateCallStatus(ctx context.Context, id domain.CallID, status string) error {
	return c.do(ctx, http.MethodPost, "/v1/calls/"+string(id)+"/status", map[string]string{
		"status": status,
	}, nil)
}

func (c *Client) InviteGuest(ctx context.Context, sessionID domain.SessionID, host domain.Identity, targetUserID domain.UserID) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+string(sessionID)+"/guests/invite", map[string]string{
		"hostId":   string(host.ID),
		"hostName": host.Name,
		"targetId": string(targetUserID),
	}, nil)
}

func (c *Client) CreateJoinRequest(ctx context.Context, sessionID domain.SessionID, requester domain.Identity, message string) (*domain.JoinRequest, error) {
	var record struct {
		ID          string    `json:"id"`
		RequesterID string    `json:"requesterId"`
		Name        string    `json:"name"`
		AvatarURL   string    `json:"avatarUrl"`
		Message     string    `json:"message"`
		RequestedAt time.Time `json:"requestedAt"`
		ExpiresAt   time.Time `json:"expiresAt"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/sessions/"+string(sessionID)+"/requests", map[string]string{
		"requesterId": string(requester.ID),
		"name":        requester.Name,
		"avatarUrl":   requester.AvatarURL,
		"message":     message,
	}, &record)
	if err != nil {
		return nil, err
	}
	return &domain.JoinRequest{
		ID:          record.ID,
		RequesterID: domain.UserID(record.RequesterID),
		Name:        record.Name,
		AvatarURL:   record.AvatarURL,
		Message:     record.Message,
		RequestedAt: record.RequestedAt,
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

func (c *Client) CancelJoinRequest(ctx context.Context, sessionID domain.SessionID, requestID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sessions/"+string(sessionID)+"/requests/"+requestID, nil, nil)
}

func (c *Client) RespondToJoinRequest(ctx context.Context, sessionID domain.SessionID, requestID string, approve bool) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+string(sessionID)+"/requests/"+requestID+"/respond", map[string]bool{
		"approve": approve,
	}, nil)
}

func (c *Client) EndGuest(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+string(sessionID)+"/guests/"+string(userID)+"/end", nil, nil)
}
