package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/havenhealth/haven/internal/apperror"
)

// Handler handles HTTP requests for authentication and session management.
// Handlers are thin: they bind the request, call the service, and write the
// JSON response. No business logic lives here.
type Handler struct {
	service AuthService
	cookies Cookies
}

// NewHandler creates a new auth handler with the given service and cookie
// settings.
func NewHandler(service AuthService, cookies Cookies) *Handler {
	return &Handler{service: service, cookies: cookies}
}

// Register creates a new account and signs the user in (POST /auth/register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if err := validateRegister(req); err != nil {
		return err
	}

	device := deviceInfo(c)
	user, err := h.service.Register(c.Request().Context(), RegisterInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	}, device)
	if err != nil {
		return err
	}

	// Registration doubles as first login.
	token, _, err := h.service.CreateSession(c.Request().Context(), user, device)
	if err != nil {
		return err
	}
	h.cookies.Set(c, token)

	return c.JSON(http.StatusCreated, map[string]any{"user": user})
}

// Login authenticates with email and password and sets the session cookie
// (POST /auth/login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return apperror.NewValidation("email and password are required")
	}

	token, user, err := h.service.Login(c.Request().Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, deviceInfo(c))
	if err != nil {
		return err
	}

	h.cookies.Set(c, token)
	return c.JSON(http.StatusOK, map[string]any{"user": user})
}

// Logout revokes the current session and clears the cookie (POST
// /auth/logout). Safe to call with a stale or missing cookie.
func (h *Handler) Logout(c echo.Context) error {
	if token := h.cookies.Read(c); token != "" {
		if err := h.service.Logout(c.Request().Context(), token, deviceInfo(c)); err != nil {
			return err
		}
	}
	h.cookies.Clear(c)
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every session the user owns (POST /auth/logout-all).
func (h *Handler) LogoutAll(c echo.Context) error {
	user := GetUser(c)
	if err := h.service.LogoutAll(c.Request().Context(), user.ID, deviceInfo(c)); err != nil {
		return err
	}
	h.cookies.Clear(c)
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated user (GET /auth/me).
func (h *Handler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"user": GetUser(c)})
}

// ChangePassword updates the password and revokes all other sessions
// (POST /auth/password).
func (h *Handler) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	user := GetUser(c)
	if err := h.service.ChangePassword(c.Request().Context(), user.ID, req.CurrentPassword, req.NewPassword, deviceInfo(c)); err != nil {
		return err
	}

	// The user's own session died with the rest; clear the cookie so the
	// client knows to sign in again.
	h.cookies.Clear(c)
	return c.NoContent(http.StatusNoContent)
}

// ListSessions returns the user's active sessions (GET /auth/sessions).
func (h *Handler) ListSessions(c echo.Context) error {
	user := GetUser(c)
	sessions, err := h.service.ListSessions(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}

	current := GetSession(c)
	type sessionView struct {
		Session
		Current bool `json:"current"`
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{Session: s, Current: current != nil && s.ID == current.ID})
	}

	return c.JSON(http.StatusOK, map[string]any{"sessions": views})
}

// RevokeSession deletes one of the user's sessions by its public id
// (DELETE /auth/sessions/:id).
func (h *Handler) RevokeSession(c echo.Context) error {
	user := GetUser(c)
	if err := h.service.RevokeSession(c.Request().Context(), user.ID, c.Param("id"), deviceInfo(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// validateRegister checks the registration payload before it reaches the
// service.
func validateRegister(req RegisterRequest) error {
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return apperror.NewValidation("a valid email is required")
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return apperror.NewValidation("display name is required")
	}
	if len(req.Password) < 8 {
		return apperror.NewValidation("password must be at least 8 characters")
	}
	if len(req.Password) > 128 {
		return apperror.NewValidation("password must be at most 128 characters")
	}
	return nil
}

// deviceInfo extracts the client's user agent and IP for session records
// and audit events.
func deviceInfo(c echo.Context) DeviceInfo {
	return DeviceInfo{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
	}
}
