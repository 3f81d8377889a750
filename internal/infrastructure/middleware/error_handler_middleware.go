package middleware

import (
	"errors"
	"net/http"

	"liveroom/internal/core/domain"
	apperrors "liveroom/pkg/errors"
	"liveroom/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps coordination errors to HTTP statuses. Domain
// sentinels take precedence over the coarser error codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionEnded):
		return http.StatusGone
	case errors.Is(err, domain.ErrRequestNotFound),
		errors.Is(err, domain.ErrNoPendingInvitation):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCannotPublish):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotConnected),
		errors.Is(err, domain.ErrInvalidCallState),
		errors.Is(err, domain.ErrCallInProgress),
		errors.Is(err, domain.ErrRequestPending):
		return http.StatusConflict
	}

	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeConfiguration, apperrors.ErrCodeProtocol:
		return http.StatusBadRequest
	case apperrors.ErrCodeBackendRequest:
		return http.StatusBadGateway
	case apperrors.ErrCodeTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware converts errors attached to the gin context
// into structured JSON responses. Log entries go through the context
// logger so the session/call/user ids stamped on the request context by
// the auth middleware and the handlers show up on every error line.
func ErrorHandlerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		log := cl.WithContext(c.Request.Context()).Sugar()
		err := c.Errors.Last().Err
		status := statusFor(err)

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			log.Errorw("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", status,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			c.JSON(status, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
			return
		}

		if status >= http.StatusInternalServerError {
			log.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		}
		c.JSON(status, gin.H{
			"error":   string(apperrors.CodeOf(err)),
			"message": err.Error(),
		})
	}
}

// RecoveryMiddleware recovers from panics and returns a structured
// internal error response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
