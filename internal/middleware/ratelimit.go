// ratelimit.go implements a per-IP rate limiter using a fixed window
// counter stored in Redis. Designed for credential endpoints (login,
// register, OAuth callback) where brute-force and credential stuffing are
// the threat. Keeping the counters in Redis means the limit holds across
// server restarts and horizontally scaled instances.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// rateLimitKeyPrefix namespaces rate limiter keys in Redis.
const rateLimitKeyPrefix = "ratelimit:"

// RateLimit returns middleware that limits requests per IP to maxRequests
// within the given window duration. Returns 429 when exceeded.
//
// The counter key is created with its expiry and incremented in a single
// MULTI/EXEC, so a key can never exist without a window clock; a counter
// that outlived its window would lock the IP out permanently. If Redis is
// unreachable the request is allowed through: losing rate limiting briefly
// is preferable to locking every user out of login.
func RateLimit(rdb *redis.Client, name string, maxRequests int, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := fmt.Sprintf("%s%s:%s", rateLimitKeyPrefix, name, c.RealIP())

			pipe := rdb.TxPipeline()
			pipe.SetNX(ctx, key, 0, window)
			incr := pipe.Incr(ctx, key)
			if _, err := pipe.Exec(ctx); err != nil {
				slog.Warn("rate limiter unavailable, allowing request",
					slog.String("limiter", name),
					slog.Any("error", err),
				)
				return next(c)
			}

			if incr.Val() > int64(maxRequests) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":   "Too Many Requests",
					"message": "Rate limit exceeded. Please try again later.",
				})
			}

			return next(c)
		}
	}
}
