package handlers

import (
	"net/http"

	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/security"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// AuthHandlers handles dashboard authentication.
type AuthHandlers struct {
	logger *logging.ChanneledLogger
}

// NewAuthHandlers creates auth handlers with injected dependencies.
func NewAuthHandlers(logger *logging.ChanneledLogger) *AuthHandlers {
	return &AuthHandlers{logger: logger}
}

// PostLogin handles POST /api/v1/auth/login
func (h *AuthHandlers) PostLogin(c *gin.Context) {
	var request struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "malformed payload"})
		return
	}

	if !security.CheckDashboardPassword(request.Password, config.DashboardPasswordHash) {
		h.logger.System().Warn("Dashboard login rejected", "clientIp", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := security.GenerateDashboardToken(config.JWTSecret, config.TokenLifetime)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": int(config.TokenLifetime.Seconds()),
	})
}
