package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// newTestLimiter spins up a miniredis instance and returns an echo handler
// wrapped in the rate limiter, plus the miniredis for clock control.
func newTestLimiter(t *testing.T, maxRequests int, window time.Duration) (*echo.Echo, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	e := echo.New()
	handler := func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
	e.POST("/login", handler, RateLimit(rdb, "login", maxRequests, window))
	return e, mr
}

func doRequest(e *echo.Echo, ip string) int {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimit_AllowsUpToMax(t *testing.T) {
	e, _ := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		if code := doRequest(e, "203.0.113.7"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, code)
		}
	}
}

func TestRateLimit_RejectsOverMax(t *testing.T) {
	e, _ := newTestLimiter(t, 2, time.Minute)

	doRequest(e, "203.0.113.7")
	doRequest(e, "203.0.113.7")

	if code := doRequest(e, "203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", code)
	}
}

func TestRateLimit_PerIP(t *testing.T) {
	e, _ := newTestLimiter(t, 1, time.Minute)

	doRequest(e, "203.0.113.7")

	// A different IP has its own counter.
	if code := doRequest(e, "198.51.100.9"); code != http.StatusOK {
		t.Fatalf("expected 200 for second IP, got %d", code)
	}
}

func TestRateLimit_WindowResets(t *testing.T) {
	e, mr := newTestLimiter(t, 1, time.Minute)

	doRequest(e, "203.0.113.7")
	if code := doRequest(e, "203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 inside window, got %d", code)
	}

	// Advance miniredis' clock past the window so the key expires.
	mr.FastForward(2 * time.Minute)

	if code := doRequest(e, "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("expected 200 after window reset, got %d", code)
	}
}

func TestRateLimit_CounterAlwaysCarriesExpiry(t *testing.T) {
	// A counter key without a TTL never resets and would lock the IP out
	// of the endpoint for good. The key must get its expiry in the same
	// transaction that increments it.
	e, mr := newTestLimiter(t, 2, time.Minute)

	for i := 0; i < 4; i++ {
		doRequest(e, "203.0.113.7")

		key := rateLimitKeyPrefix + "login:203.0.113.7"
		ttl := mr.TTL(key)
		if ttl <= 0 || ttl > time.Minute {
			t.Fatalf("after request %d: counter TTL = %v, want within (0, 1m]", i+1, ttl)
		}
	}
}
