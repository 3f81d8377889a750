package http

import (
	"net/http"

	"liveroom/internal/core/domain"
	apperrors "liveroom/pkg/errors"

	"github.com/gin-gonic/gin"
)

// GuestHandler exposes guest invitations and join requests for the
// active session.
type GuestHandler struct {
	registry *CoordinatorRegistry
}

func NewGuestHandler(registry *CoordinatorRegistry) *GuestHandler {
	return &GuestHandler{registry: registry}
}

func (h *GuestHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/session/guests/invite", h.InviteGuest)
	api.POST("/session/guests/:userId/end", h.EndGuest)
	api.GET("/session/requests", h.PendingRequests)
	api.POST("/session/requests", h.RequestToJoin)
	api.DELETE("/session/requests", h.CancelRequest)
	api.POST("/session/requests/:requestId/respond", h.RespondToRequest)
	api.POST("/session/invitation/respond", h.RespondToInvitation)
	api.GET("/session/invitation", h.PendingInvitation)
}

func (h *GuestHandler) InviteGuest(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	guests, err := ref.guests()
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := guests.InviteGuest(c.Request.Context(), domain.UserID(req.UserID)); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "invited"})
}

func (h *GuestHandler) EndGuest(c *gin.Context) {
	userID := domain.UserID(c.Param("userId"))
	if userID == "" {
		_ = c.Error(apperrors.NewConfigurationError("user id is required"))
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	guests, err := ref.guests()
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := guests.EndGuest(c.Request.Context(), userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *GuestHandler) PendingRequests(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	guests, err := ref.guests()
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": guests.PendingRequests()})
}

func (h *GuestHandler) RequestToJoin(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"max=500"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	guests, err := ref.guests()
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := guests.RequestToJoin(c.Request.Context(), req.Message); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}

func (h *GuestHandler) CancelRequest(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	guests, err := ref.guests()
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := guests.CancelRequest(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *GuestHandler) RespondToRequest(c *gin.Context) {
	requestID := c.Param("requestId")
	if requestID == "" {
		_ = c.Error(apperrors.NewConfigurationError("request id is required"))
		return
	}

	var req struct {
		Approve bool `json:"approve"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	guests, err := ref.guests()
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := guests.RespondToRequest(c.Request.Context(), requestID, req.Approve); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "responded"})
}

func (h *GuestHandler) RespondToInvitation(c *gin.Context) {
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	guests, err := ref.guests()
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := guests.RespondToInvitation(req.Accept); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "responded"})
}

func (h *GuestHandler) PendingInvitation(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}
	guests, err := ref.guests()
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invitation": guests.PendingInvitation()})
}
