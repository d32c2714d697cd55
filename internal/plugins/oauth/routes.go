package oauth

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/havenhealth/haven/internal/middleware"
)

// RegisterRoutes sets up the OAuth routes. Both legs are rate-limited per
// IP: Begin mints state entries and Callback performs the code exchange,
// and neither should be hammerable.
func RegisterRoutes(e *echo.Echo, h *Handler, rdb *redis.Client) {
	g := e.Group("/oauth")

	g.GET("/providers", h.Providers)
	g.GET("/:provider", h.Begin, middleware.RateLimit(rdb, "oauth_begin", 10, time.Minute))
	g.GET("/:provider/callback", h.Callback, middleware.RateLimit(rdb, "oauth_callback", 10, time.Minute))
}
