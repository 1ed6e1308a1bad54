package middleware

import (
	"net/http"
	"strings"

	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/security"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// DashboardAuthMiddleware guards the analytics and match-stream surface
// with a bearer JWT. Websocket upgrades may carry the token as a query
// parameter since browsers cannot set headers on upgrade requests.
func DashboardAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := security.ValidateJWT(token, config.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if role, _ := claims["role"].(string); role != "dashboard" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
