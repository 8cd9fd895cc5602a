package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"api-farm/internal/keypool"
	"api-farm/internal/proxy"
)

// ChatHandler exposes the public inference endpoint. It requires no session
// token: the request is served from the shared pool, not a caller's own key.
type ChatHandler struct {
	Router *proxy.Router
}

func NewChatHandler(r *proxy.Router) *ChatHandler {
	return &ChatHandler{Router: r}
}

// Completions validates the request once at the boundary, routes it across
// the pool and returns the normalized response. Per-attempt failures are
// never surfaced, only the final outcome.
func (h *ChatHandler) Completions(c echo.Context) error {
	var req proxy.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "invalid body"})
	}
	if req.Model == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "model required"})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "messages required"})
	}
	for _, m := range req.Messages {
		if m.Role == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "message role required"})
		}
	}

	resp, err := h.Router.Completion(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, keypool.ErrPoolExhausted) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "pool_exhausted", "message": "no API keys available in the pool"})
		}
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "upstream_unavailable", "message": "all upstream attempts failed"})
	}
	return c.JSON(http.StatusOK, resp)
}
