package audit

import (
	"github.com/labstack/echo/v4"

	"github.com/havenhealth/haven/internal/plugins/auth"
)

// RegisterRoutes mounts the audit log under the admin area. Reading the
// log requires the ADMIN role.
func RegisterRoutes(e *echo.Echo, h *Handler, service auth.AuthService, cookies auth.Cookies, bypassRole string) {
	g := e.Group("/admin/audit",
		auth.RequireAuth(service, cookies),
		auth.RequireAnyRole(bypassRole, auth.RoleAdmin),
	)
	g.GET("", h.List)
}
