package middleware

import (
	"net/http"
	"strings"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/services"
	"liveroom/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID   = "user_id"
	ctxUserName = "user_name"
)

// AuthMiddleware validates the API token and stores the caller
// identity in the request context. Websocket clients cannot set
// headers, so a "token" query parameter is accepted as a fallback.
func AuthMiddleware(tokens *services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			c.Abort()
			return
		}

		identity, err := tokens.ValidateAPIToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(ctxUserID, identity.ID)
		c.Set(ctxUserName, identity.Name)
		// Stamp the caller onto the request context so downstream log
		// entries carry the id.
		c.Request = c.Request.WithContext(logger.WithUser(c.Request.Context(), string(identity.ID)))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// IdentityFrom returns the authenticated caller identity set by
// AuthMiddleware.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	idVal, exists := c.Get(ctxUserID)
	if !exists {
		return domain.Identity{}, false
	}
	userID, ok := idVal.(domain.UserID)
	if !ok {
		return domain.Identity{}, false
	}
	name, _ := c.Get(ctxUserName)
	nameStr, _ := name.(string)
	return domain.Identity{ID: userID, Name: nameStr}, true
}
