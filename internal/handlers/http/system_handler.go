package http

import (
	"net/http"

	"liveroom/internal/infrastructure/middleware"
	"liveroom/internal/infrastructure/monitoring"
	"liveroom/internal/infrastructure/notify"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SystemHandler serves health, metrics and the per-user notification
// stream.
type SystemHandler struct {
	health *monitoring.HealthChecker
	stream *notify.WebSocketStream
}

func NewSystemHandler(health *monitoring.HealthChecker, stream *notify.WebSocketStream) *SystemHandler {
	return &SystemHandler{health: health, stream: stream}
}

// SetupRoutes registers the system endpoints. The notification stream
// requires auth; health and metrics do not. The metrics endpoint is
// registered only when the Prometheus collector is on.
func (h *SystemHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc, metricsEnabled bool) {
	router.GET("/health", h.Health)
	if metricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	router.GET("/api/v1/notifications/stream", auth, h.NotificationStream)
}

func (h *SystemHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *SystemHandler) NotificationStream(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	h.stream.HandleWebSocket(c.Writer, c.Request, identity.ID)
}
