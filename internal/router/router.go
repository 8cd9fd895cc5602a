// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"api-farm/internal/handler"
	"api-farm/internal/middleware"
)

// RegisterRoutes registers the full API surface. Registration, login and the
// health check are public; key management requires a session; the
// chat-completions endpoint is deliberately public because it draws on the
// shared pool rather than a caller-specific key.
func RegisterRoutes(e *echo.Echo, a *handler.AuthHandler, k *handler.KeyHandler, ch *handler.ChatHandler,
	verifier middleware.TokenVerifier, rateLimit echo.MiddlewareFunc) {

	e.GET("/healthz", handler.Health)

	auth := e.Group("/v1/auth")
	auth.POST("/register", a.Register)
	auth.POST("/login", a.Login)
	// Logout reads the bearer token itself: revoking an already-revoked
	// token must 401 exactly like an unknown one.
	auth.POST("/logout", a.Logout)

	keys := e.Group("/v1/keys", middleware.SessionAuth(verifier))
	keys.POST("", k.Add)
	keys.GET("", k.List)
	keys.DELETE("", k.Remove)

	e.POST("/v1/chat/completions", ch.Completions, rateLimit)
}
