package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/security"
	"github.com/driveline-analytics/leadbridge-go/internal/presentation/http/middleware"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuardedRouter(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	previous := config.JWTSecret
	config.JWTSecret = secret
	t.Cleanup(func() { config.JWTSecret = previous })

	r := gin.New()
	r.GET("/guarded", middleware.DashboardAuthMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func getWithToken(r *gin.Engine, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestDashboardAuthAcceptsValidToken(t *testing.T) {
	r := newGuardedRouter(t, "test-secret")

	token, err := security.GenerateDashboardToken("test-secret", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, getWithToken(r, token).Code)
}

func TestDashboardAuthRejectsMissingToken(t *testing.T) {
	r := newGuardedRouter(t, "test-secret")
	assert.Equal(t, http.StatusUnauthorized, getWithToken(r, "").Code)
}

func TestDashboardAuthRejectsEmptySecretForgery(t *testing.T) {
	// With no secret configured the guard fails closed; a token signed
	// over the empty key must not open the dashboard surface.
	r := newGuardedRouter(t, "")

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "dashboard",
		"exp":  time.Now().UTC().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, getWithToken(r, signed).Code)
}

func TestDashboardAuthRejectsWrongRole(t *testing.T) {
	r := newGuardedRouter(t, "test-secret")

	wrongRole := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "visitor",
		"exp":  time.Now().UTC().Add(time.Hour).Unix(),
	})
	signed, err := wrongRole.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, getWithToken(r, signed).Code)
}
