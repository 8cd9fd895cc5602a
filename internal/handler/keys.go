package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"api-farm/internal/keypool"
)

// KeyHandler exposes per-owner credential management over the shared pool.
type KeyHandler struct {
	Pool *keypool.Pool
}

func NewKeyHandler(p *keypool.Pool) *KeyHandler {
	return &KeyHandler{Pool: p}
}

type addKeyReq struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

type removeKeyReq struct {
	APIKey string `json:"api_key"`
}

// Add contributes a key to the pool under the calling user.
func (h *KeyHandler) Add(c echo.Context) error {
	var req addKeyReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "invalid body"})
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	if req.APIKey == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "api_key required"})
	}

	ownerID := c.Get("user_id").(string)
	id, err := h.Pool.Add(ownerID, req.APIKey, strings.TrimSpace(req.BaseURL))
	if err != nil {
		if errors.Is(err, keypool.ErrDuplicateKey) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate_key", "message": "key already in pool"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "persistence_failure", "message": "add key failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": id})
}

// List returns the calling user's own key values in insertion order.
func (h *KeyHandler) List(c echo.Context) error {
	ownerID := c.Get("user_id").(string)
	return c.JSON(http.StatusOK, echo.Map{"keys": h.Pool.List(ownerID)})
}

// Remove hard-deletes a key. Ownership is required; a value owned by someone
// else is indistinguishable from a value that does not exist.
func (h *KeyHandler) Remove(c echo.Context) error {
	var req removeKeyReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "invalid body"})
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	if req.APIKey == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "api_key required"})
	}

	ownerID := c.Get("user_id").(string)
	if err := h.Pool.Remove(ownerID, req.APIKey); err != nil {
		if errors.Is(err, keypool.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "key not found for this user"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "persistence_failure", "message": "remove key failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
