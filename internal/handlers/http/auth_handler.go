package http

import (
	"net/http"
	"strings"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/services"
	"liveroom/pkg/utils"
	"liveroom/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues API tokens. Account storage lives in the backend
// service; this endpoint only mints tokens for already-known callers
// and for anonymous viewers.
type AuthHandler struct {
	tokens *services.TokenService
}

func NewAuthHandler(tokens *services.TokenService) *AuthHandler {
	return &AuthHandler{tokens: tokens}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	UserID string `json:"user_id" binding:"omitempty,max=100"`
	Name   string `json:"name" binding:"required,min=1,max=100"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if err := validation.ValidateDisplayName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := domain.UserID(req.UserID)
	if userID == "" {
		userID = domain.UserID(utils.GenerateUserID())
	} else if err := validation.ValidateUserID(req.UserID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.tokens.IssueAPIToken(domain.Identity{ID: userID, Name: req.Name})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id":      userID,
		"name":         req.Name,
		"access_token": token,
	})
}
