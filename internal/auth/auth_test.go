package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 10)
	token, expires, err := tm.GenerateToken("dashboard")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), expires, time.Minute)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)
	assert.True(t, claims.HasScope(ScopeReports))

	_, err = NewTokenManager("other", 10).ParseToken(token)
	assert.Error(t, err)
}

func TestTokenManager_Expired(t *testing.T) {
	tm := NewTokenManager("secret", 1)
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := tm.GenerateToken("dashboard")
	require.NoError(t, err)

	_, err = NewTokenManager("secret", 1).ParseToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RequiresSubject(t *testing.T) {
	_, _, err := NewTokenManager("secret", 1).GenerateToken("")
	assert.Error(t, err)
}

func newApp(m *AuthMiddleware) *fiber.App {
	app := fiber.New()
	app.Get("/", m.Handle, m.RequireScope(ScopeReports), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	return app
}

func statusFor(t *testing.T, app *fiber.App, header string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 10)
	valid, _, err := tm.GenerateToken("dashboard")
	require.NoError(t, err)
	narrow, _, err := tm.GenerateToken("dashboard", "other:scope")
	require.NoError(t, err)

	// Errors surface as fiber's default 500 here because no error middleware
	// is installed, so only success is compared by code.
	app := newApp(NewAuthMiddleware(tm))
	assert.Equal(t, http.StatusNoContent, statusFor(t, app, "Bearer "+valid))
	assert.NotEqual(t, http.StatusNoContent, statusFor(t, app, ""))
	assert.NotEqual(t, http.StatusNoContent, statusFor(t, app, "Basic abc"))
	assert.NotEqual(t, http.StatusNoContent, statusFor(t, app, "Bearer nope"))
	assert.NotEqual(t, http.StatusNoContent, statusFor(t, app, "Bearer "+narrow))

	open := newApp(NewAuthMiddleware(nil))
	assert.Equal(t, http.StatusNoContent, statusFor(t, open, ""))
}
