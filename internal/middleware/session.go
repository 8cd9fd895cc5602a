// Package middleware contains reusable HTTP middleware: bearer-token session
// authentication and the optional Redis rate limiter.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TokenVerifier resolves a session token to a user id. Implemented by the
// session store; declared here so the middleware depends on behavior only.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// SessionAuth validates the Authorization bearer token against the session
// store and injects "user_id" and "token" into the request context. Any
// missing, unknown, revoked or expired token yields 401 without detail.
func SessionAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := BearerToken(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
			}
			userID, err := verifier.Verify(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid or expired token"})
			}
			c.Set("user_id", userID)
			c.Set("token", token)
			return next(c)
		}
	}
}

// BearerToken extracts the raw token from the Authorization header.
func BearerToken(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return token, token != ""
}
