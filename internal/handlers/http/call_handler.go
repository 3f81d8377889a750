package http

import (
	"net/http"

	"liveroom/internal/core/domain"

	"github.com/gin-gonic/gin"
)

// CallHandler exposes the 1:1 call state machine. Call signaling runs
// over the notification stream; these endpoints only drive the local
// side of the machine.
type CallHandler struct {
	registry *CoordinatorRegistry
}

func NewCallHandler(registry *CoordinatorRegistry) *CallHandler {
	return &CallHandler{registry: registry}
}

func (h *CallHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/calls", h.InitiateCall)
	api.POST("/calls/accept", h.AcceptCall)
	api.POST("/calls/decline", h.DeclineCall)
	api.POST("/calls/cancel", h.CancelCall)
	api.POST("/calls/end", h.EndCall)
	api.GET("/calls/state", h.CallState)
}

func (h *CallHandler) InitiateCall(c *gin.Context) {
	var req struct {
		CalleeID string `json:"callee_id" binding:"required"`
		Kind     string `json:"kind" binding:"required,oneof=audio video"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	call, err := ref.coord.Calls().InitiateCall(c.Request.Context(), domain.UserID(req.CalleeID), domain.CallKind(req.Kind))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"call": call})
}

func (h *CallHandler) AcceptCall(c *gin.Context) {
	h.callOp(c, func(ref *coordinatorRef) error {
		return ref.coord.Calls().AcceptCall(c.Request.Context())
	})
}

func (h *CallHandler) DeclineCall(c *gin.Context) {
	h.callOp(c, func(ref *coordinatorRef) error {
		return ref.coord.Calls().DeclineCall(c.Request.Context())
	})
}

func (h *CallHandler) CancelCall(c *gin.Context) {
	h.callOp(c, func(ref *coordinatorRef) error {
		return ref.coord.Calls().CancelCall(c.Request.Context())
	})
}

func (h *CallHandler) EndCall(c *gin.Context) {
	h.callOp(c, func(ref *coordinatorRef) error {
		return ref.coord.Calls().EndCall(c.Request.Context())
	})
}

func (h *CallHandler) callOp(c *gin.Context, op func(*coordinatorRef) error) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	if err := op(ref); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": ref.coord.Calls().State()})
}

func (h *CallHandler) CallState(c *gin.Context) {
	ref, ok := coordinatorFor(c, h.registry)
	if !ok {
		return
	}

	calls := ref.coord.Calls()
	c.JSON(http.StatusOK, gin.H{
		"state":    calls.State(),
		"call":     calls.ActiveCall(),
		"incoming": calls.IsIncoming(),
	})
}
