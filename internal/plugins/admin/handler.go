package admin

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/havenhealth/haven/internal/apperror"
	"github.com/havenhealth/haven/internal/plugins/auth"
)

// Handler serves the admin user-management endpoints.
type Handler struct {
	service Service
}

// NewHandler creates a new admin handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type roleRequest struct {
	Role string `json:"role"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// ListUsers returns a page of accounts (GET /admin/users).
func (h *Handler) ListUsers(c echo.Context) error {
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	users, total, err := h.service.ListUsers(c.Request().Context(), offset, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"users": users,
		"total": total,
	})
}

// AssignRole grants a role to a user (POST /admin/users/:id/roles).
func (h *Handler) AssignRole(c echo.Context) error {
	var req roleRequest
	if err := c.Bind(&req); err != nil || req.Role == "" {
		return apperror.NewBadRequest("role is required")
	}

	actor := auth.GetUser(c)
	if err := h.service.AssignRole(c.Request().Context(), actor.ID, c.Param("id"), req.Role, deviceInfo(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RevokeRole removes a role from a user (DELETE /admin/users/:id/roles/:role).
func (h *Handler) RevokeRole(c echo.Context) error {
	actor := auth.GetUser(c)
	if err := h.service.RevokeRole(c.Request().Context(), actor.ID, c.Param("id"), c.Param("role"), deviceInfo(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ResetPassword force-sets a user's password and signs them out everywhere
// (POST /admin/users/:id/password).
func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	actor := auth.GetUser(c)
	if err := h.service.ResetPassword(c.Request().Context(), actor.ID, c.Param("id"), req.NewPassword, deviceInfo(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteUser removes an account (DELETE /admin/users/:id).
func (h *Handler) DeleteUser(c echo.Context) error {
	actor := auth.GetUser(c)
	if err := h.service.DeleteUser(c.Request().Context(), actor.ID, c.Param("id"), deviceInfo(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func deviceInfo(c echo.Context) auth.DeviceInfo {
	return auth.DeviceInfo{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
	}
}
