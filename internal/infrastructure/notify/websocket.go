package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketStream bridges the per-user notification channel to
// connected websocket clients. Each client holds exactly one
// connection; a reconnect displaces the previous one.
type WebSocketStream struct {
	channel ports.NotificationChannel

	connections map[domain.UserID]*websocket.Conn
	mu          sync.RWMutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketStream(channel ports.NotificationChannel, logger *zap.SugaredLogger) *WebSocketStream {
	return &WebSocketStream{
		channel:      channel,
		connections:  make(map[domain.UserID]*websocket.Conn),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// HandleWebSocket upgrades the request and streams the user's
// notifications until the client disconnects. The user identity is
// resolved by the auth middleware before the request reaches here.
func (s *WebSocketStream) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID domain.UserID) {
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	existing, isReconnect := s.connections[userID]
	if isReconnect && existing != nil {
		existing.Close()
		s.logger.Infow("closing old connection for reconnecting user", "user_id", userID)
	}
	s.connections[userID] = conn
	s.mu.Unlock()

	s.logger.Infow("user connected to notification stream", "user_id", userID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	notificationChan := make(chan ports.Notification, 16)
	unsubscribe, err := s.channel.Subscribe(r.Context(), userID, func(n ports.Notification) {
		select {
		case notificationChan <- n:
		default:
			s.logger.Warnw("notification dropped, slow websocket client", "user_id", userID, "kind", n.Kind)
		}
	})
	if err != nil {
		s.logger.Errorw("failed to subscribe to notifications", "user_id", userID, "error", err)
		return
	}
	defer unsubscribe()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	errorChan := make(chan error, 1)

	// Drain the client side. Clients do not send application frames;
	// the read loop only services pongs and detects closure.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
	}()

	for {
		select {
		case n := <-notificationChan:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(n); err != nil {
				s.logger.Infow("error writing notification", "user_id", userID, "error", err)
				s.drop(userID, conn)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "user_id", userID, "error", err)
				s.drop(userID, conn)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading from client", "user_id", userID, "error", err)
			}
			s.drop(userID, conn)
			return
		}
	}
}

// drop removes the registration only when it still points at conn. A
// displaced connection must not unregister its successor.
func (s *WebSocketStream) drop(userID domain.UserID, conn *websocket.Conn) {
	s.mu.Lock()
	if s.connections[userID] == conn {
		delete(s.connections, userID)
	}
	s.mu.Unlock()

	s.logger.Infow("user disconnected from notification stream", "user_id", userID)
}

// Push writes a notification directly to a connected user, bypassing
// the channel. Used for server-local events like shutdown notices.
func (s *WebSocketStream) Push(userID domain.UserID, n ports.Notification) error {
	s.mu.RLock()
	conn, exists := s.connections[userID]
	s.mu.RUnlock()

	if !exists {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteJSON(n)
}

// Shutdown notifies every connected client and closes the sockets.
func (s *WebSocketStream) Shutdown(ctx context.Context) {
	payload, _ := json.Marshal(map[string]string{"reason": "server_shutdown"})

	s.mu.Lock()
	conns := make(map[domain.UserID]*websocket.Conn, len(s.connections))
	for userID, conn := range s.connections {
		conns[userID] = conn
	}
	s.connections = make(map[domain.UserID]*websocket.Conn)
	s.mu.Unlock()

	for userID, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := conn.WriteJSON(ports.Notification{Kind: ports.NotifySessionEnded, Payload: payload}); err != nil {
			s.logger.Debugw("failed to send shutdown notice", "user_id", userID, "error", err)
		}
		conn.Close()
	}
}
