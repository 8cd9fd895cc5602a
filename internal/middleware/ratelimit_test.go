package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"api-farm/internal/config"
)

func invokeLimited(t *testing.T, mw echo.MiddlewareFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "served") })
	require.NoError(t, h(c))
	return rec
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	mw := RateLimit(config.RateLimitConfig{Enabled: false}, nil)
	rec := invokeLimited(t, mw)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_NoRedisClientPassesThrough(t *testing.T) {
	// Enabled but with no backing client: degrade to a no-op instead of
	// failing requests.
	mw := RateLimit(config.RateLimitConfig{
		Enabled:        true,
		Capacity:       1,
		RefillTokens:   1,
		RefillInterval: time.Second,
		TTL:            time.Minute,
		Prefix:         "rl",
	}, nil)
	for i := 0; i < 3; i++ {
		rec := invokeLimited(t, mw)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
