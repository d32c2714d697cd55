package auth

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/havenhealth/haven/internal/middleware"
)

// RegisterRoutes sets up all auth routes on the given Echo instance. The
// guard middleware is exported separately for other plugins to use on
// their own route groups.
//
// Credential endpoints are rate-limited per IP to slow brute-force and
// credential stuffing: 10 login attempts per minute, 5 registrations.
func RegisterRoutes(e *echo.Echo, h *Handler, service AuthService, cookies Cookies, rdb *redis.Client) {
	g := e.Group("/auth")

	// Public routes.
	g.POST("/register", h.Register, middleware.RateLimit(rdb, "register", 5, time.Minute))
	g.POST("/login", h.Login, middleware.RateLimit(rdb, "login", 10, time.Minute))

	// Logout works with or without a live session; it always clears the
	// cookie, so no guard.
	g.POST("/logout", h.Logout)

	// Session-holder routes.
	authed := g.Group("", RequireAuth(service, cookies))
	authed.GET("/me", h.Me)
	authed.POST("/logout-all", h.LogoutAll)
	authed.POST("/password", h.ChangePassword, middleware.RateLimit(rdb, "password", 5, time.Minute))
	authed.GET("/sessions", h.ListSessions)
	authed.DELETE("/sessions/:id", h.RevokeSession)
}
