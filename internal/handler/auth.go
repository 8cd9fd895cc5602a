package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"api-farm/internal/middleware"
	"api-farm/internal/session"
)

// AuthHandler bundles dependencies for the auth endpoints.
type AuthHandler struct {
	Sessions *session.Store
}

func NewAuthHandler(s *session.Store) *AuthHandler {
	return &AuthHandler{Sessions: s}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates a user and returns its id.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "username/password required"})
	}

	userID, err := h.Sessions.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrDuplicateUser) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate_user", "message": "username already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "persistence_failure", "message": "create user failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"user_id": userID})
}

// Login verifies the password and returns a fresh session token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": "username/password required"})
	}

	token, userID, err := h.Sessions.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials", "message": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "persistence_failure", "message": "login failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"token": token, "user_id": userID})
}

// Logout revokes exactly the presented token. The handler reads the header
// itself so that an already-revoked token gets the same 401 as an unknown
// one instead of being filtered earlier.
func (h *AuthHandler) Logout(c echo.Context) error {
	token, ok := middleware.BearerToken(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
	}
	if err := h.Sessions.Logout(token); err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid or expired token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "persistence_failure", "message": "logout failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
