package admin

import (
	"github.com/labstack/echo/v4"

	"github.com/havenhealth/haven/internal/plugins/auth"
)

// RegisterRoutes mounts the user-management endpoints behind the ADMIN
// role gate.
func RegisterRoutes(e *echo.Echo, h *Handler, service auth.AuthService, cookies auth.Cookies, bypassRole string) {
	g := e.Group("/admin/users",
		auth.RequireAuth(service, cookies),
		auth.RequireAnyRole(bypassRole, auth.RoleAdmin),
	)

	g.GET("", h.ListUsers)
	g.POST("/:id/roles", h.AssignRole)
	g.DELETE("/:id/roles/:role", h.RevokeRole)
	g.POST("/:id/password", h.ResetPassword)
	g.DELETE("/:id", h.DeleteUser)
}
