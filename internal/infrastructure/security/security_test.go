package security_test

import (
	"testing"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/security"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardTokenRoundTrip(t *testing.T) {
	secret := "test-secret"

	token, err := security.GenerateDashboardToken(secret, time.Hour)
	require.NoError(t, err)

	claims, err := security.ValidateJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims["role"])
}

func TestValidateJWTRejectsEmptySecret(t *testing.T) {
	// A token HMAC-signed over the empty key must not validate when the
	// secret is unset; the empty secret fails closed.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "dashboard",
		"exp":  time.Now().UTC().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte(""))
	require.NoError(t, err)

	claims, err := security.ValidateJWT(signed, "")
	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateJWTRejectsWrongSecret(t *testing.T) {
	token, err := security.GenerateDashboardToken("secret-a", time.Hour)
	require.NoError(t, err)

	_, err = security.ValidateJWT(token, "secret-b")
	assert.Error(t, err)
}

func TestGenerateSecureKey(t *testing.T) {
	first, err := security.GenerateSecureKey(64)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := security.GenerateSecureKey(64)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
