package http

import (
	"net/http"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/ports"
	"liveroom/internal/core/services"
	"liveroom/internal/infrastructure/middleware"
	apperrors "liveroom/pkg/errors"
	"liveroom/pkg/logger"
	"liveroom/pkg/validation"

	"github.com/gin-gonic/gin"
)

// SessionHandler exposes the session lifecycle, the in-room signaling
// operations and local media controls over HTTP.
type SessionHandler struct {
	registry *CoordinatorRegistry
}

func NewSessionHandler(registry *CoordinatorRegistry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

func (h *SessionHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/sessions", h.CreateSession)
	api.POST("/sessions/:id/join", h.JoinSession)
	api.POST("/session/leave", h.LeaveSession)
	api.POST("/session/end", h.EndSession)
	api.GET("/session/snapshot", h.Snapshot)

	api.POST("/session/chat", h.SendChat)
	api.POST("/session/hand-raise", h.RaiseHand)
	api.GET("/session/speak-requests", h.SpeakRequests)
	api.POST("/session/speak/grant", h.GrantSpeak)
	api.POST("/session/speak/revoke", h.RevokeSpeak)

	api.POST("/session/media/microphone", h.ToggleMicrophone)
	api.POST("/session/media/camera", h.ToggleCamera)
	api.POST("/session/media/camera/facing", h.SwitchCameraFacing)
	api.POST("/session/media/push-to-talk", h.SetPushToTalk)
}

// coordinatorRef pairs the authenticated identity with its
// coordinator for the duration of one request.
type coordinatorRef struct {
	coord    *services.SessionLifecycleCoordinator
	identity domain.Identity
}

// room returns the active room controller or ErrNotConnected when the
// caller has no attached session.
func (r *coordinatorRef) room() (*services.RoomSessionController, error) {
	room := r.coord.Room()
	if room == nil {
		return nil, domain.ErrNotConnected
	}
	return room, nil
}

// guests returns the active guest controller or ErrNotConnected.
func (r *coordinatorRef) guests() (*services.GuestInvitationController, error) {
	guests := r.coord.Guests()
	if guests == nil {
		return nil, domain.ErrNotConnected
	}
	return guests, nil
}

func coordinatorFor(c *gin.Context, registry *CoordinatorRegistry) (*coordinatorRef, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		c.Abort()
		return nil, false
	}

	coord, err := registry.For(c.Request.Context(), identity)
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}

	// Stamp the session and call ids onto the request context so error
	// logs for this request carry them.
	ctx := c.Request.Context()
	if id := coord.SessionID(); id != "" {
		ctx = logger.WithSession(ctx, string(id))
	}
	if call := coord.Calls().ActiveCall(); call != nil {
		ctx = logger.WithCall(ctx, string(call.ID))
	}
	c.Request = c.Request.WithContext(ctx)

	return &coordinatorRef{coord: coord, identity: identity}, true
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		Title         string `json:"title" binding:"required,min=1,max=200"`
		Kind          string `json:"kind" binding:"required,oneof=audio audio_video"`
		Access        string `json:"access" binding:"omitempty,oneof=public followers invite_only"`
		ChatEnabled   bool   `json:"chat_enabled"`
		GiftsEnabled  bool   `json:"gifts_enabled"`
		GuestsEnabled bool   `json:"guests_enabled"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateSessionTitle(req.Title); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Access == "" {
		req.Access = string(domain.AccessPublic)
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	session, err := ref.coord.CreateSession(c.Request.Context(), ports.CreateSessionParams{
		Title:         req.Title,
		Kind:          domain.SessionKind(req.Kind),
		Access:        domain.AccessPolicy(req.Access),
		ChatEnabled:   req.ChatEnabled,
		GiftsEnabled:  req.GiftsEnabled,
		GuestsEnabled: req.GuestsEnabled,
		CreatorID:     ref.identity.ID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (h *SessionHandler) JoinSession(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	if sessionID == "" {
		_ = c.Error(apperrors.NewConfigurationError("session id is required"))
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	session, err := ref.coord.JoinSession(c.Request.Context(), sessionID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) LeaveSession(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	if err := ref.coord.LeaveSession(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *SessionHandler) EndSession(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	if err := ref.coord.EndSession(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *SessionHandler) Snapshot(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ref.coord.Snapshot())
}

func (h *SessionHandler) SendChat(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required,min=1,max=2000"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateChatMessage(req.Text); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	room, err := ref.room()
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := room.SendChat(c.Request.Context(), req.Text); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (h *SessionHandler) RaiseHand(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	room, err := ref.room()
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := room.RaiseHand(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "raised"})
}

func (h *SessionHandler) SpeakRequests(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	room, err := ref.room()
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": room.PendingSpeakRequests()})
}

func (h *SessionHandler) GrantSpeak(c *gin.Context) {
	h.speakPermission(c, true)
}

func (h *SessionHandler) RevokeSpeak(c *gin.Context) {
	h.speakPermission(c, false)
}

func (h *SessionHandler) speakPermission(c *gin.Context, grant bool) {
	var req struct {
		TargetID string `json:"target_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	room, err := ref.room()
	if err != nil {
		_ = c.Error(err)
		return
	}
	if grant {
		err = room.GrantSpeak(c.Request.Context(), domain.UserID(req.TargetID))
	} else {
		err = room.RevokeSpeak(c.Request.Context(), domain.UserID(req.TargetID))
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SessionHandler) ToggleMicrophone(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	room, err := ref.room()
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := room.ToggleMicrophone(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"local_media": room.LocalMedia()})
}

func (h *SessionHandler) ToggleCamera(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	room, err := ref.room()
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := room.ToggleCamera(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"local_media": room.LocalMedia()})
}

func (h *SessionHandler) SwitchCameraFacing(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	room, err := ref.room()
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"facing": room.SwitchCameraFacing()})
}

func (h *SessionHandler) SetPushToTalk(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	room, err := ref.room()
	if err != nil {
		_ = c.Error(err)
		return
	}
	room.SetPushToTalk(req.Enabled)
	c.JSON(http.StatusOK, gin.H{"local_media": room.LocalMedia()})
}
