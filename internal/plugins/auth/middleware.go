package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/havenhealth/haven/internal/apperror"
)

// Context keys for the authenticated identity. Set by RequireAuth and
// OptionalAuth, read by handlers through GetUser/GetSession.
const (
	contextKeyUser    = "auth.user"
	contextKeySession = "auth.session"
)

// Cookies reads and writes the session cookie. The cookie carries the
// signed token only; it is HttpOnly and SameSite=Lax so scripts can't
// read it and cross-site POSTs won't send it.
type Cookies struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

// Read returns the raw token from the request cookie, or "" when absent.
func (c Cookies) Read(ctx echo.Context) string {
	cookie, err := ctx.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Set writes the session cookie with the signed token.
func (c Cookies) Set(ctx echo.Context, token string) {
	ctx.SetCookie(&http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.TTL.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the session cookie immediately.
func (c Cookies) Clear(ctx echo.Context) {
	ctx.SetCookie(&http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// RequireAuth is the authentication guard: it resolves the session cookie
// to a user and session and attaches both to the request context, or stops
// the request with 401.
//
// The cookie is cleared only when the session store rejected it (expired,
// revoked, or the user is gone). A token that merely fails signature
// verification leaves the cookie alone -- a key rotation or a transient
// clock problem shouldn't log everyone out twice.
func RequireAuth(service AuthService, cookies Cookies) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := cookies.Read(c)
			if token == "" {
				return apperror.NewNoSessionToken()
			}

			user, session, err := service.ValidateSession(c.Request().Context(), token)
			if err != nil {
				return handleGuardError(c, cookies, err)
			}

			c.Set(contextKeyUser, user)
			c.Set(contextKeySession, session)
			return next(c)
		}
	}
}

// OptionalAuth attaches the user and session when a valid cookie is
// present, and lets the request through anonymously otherwise. Expired or
// revoked cookies are cleared along the way.
func OptionalAuth(service AuthService, cookies Cookies) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := cookies.Read(c)
			if token == "" {
				return next(c)
			}

			user, session, err := service.ValidateSession(c.Request().Context(), token)
			if err != nil {
				if shouldClearCookie(err) {
					cookies.Clear(c)
				}
				return next(c)
			}

			c.Set(contextKeyUser, user)
			c.Set(contextKeySession, session)
			return next(c)
		}
	}
}

// RequireAnyRole is the authorization guard: the user must hold at least
// one of the named roles. The bypass role (typically SUPER_ADMIN) passes
// every check. Must run after RequireAuth; a request that reaches it with
// no identity attached gets 401, not 403.
func RequireAnyRole(bypassRole string, roles ...string) echo.MiddlewareFunc {
	required := make([]string, 0, len(roles))
	for _, r := range roles {
		required = append(required, NormalizeRoleName(r))
	}
	bypass := NormalizeRoleName(bypassRole)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetUser(c)
			if user == nil {
				return apperror.NewUnauthorized("authentication required")
			}
			var identity Identity = user

			held := identity.RoleNames()
			if bypass != "" {
				if _, ok := held[bypass]; ok {
					return next(c)
				}
			}
			for _, r := range required {
				if _, ok := held[r]; ok {
					return next(c)
				}
			}

			slog.Debug("role check failed",
				slog.String("user_id", user.ID),
				slog.Any("required", required),
			)
			return apperror.NewForbidden("insufficient permissions")
		}
	}
}

// GetUser returns the authenticated user from the request context, or nil.
func GetUser(c echo.Context) *User {
	user, _ := c.Get(contextKeyUser).(*User)
	return user
}

// GetSession returns the authenticated session from the request context,
// or nil.
func GetSession(c echo.Context) *Session {
	session, _ := c.Get(contextKeySession).(*Session)
	return session
}

// handleGuardError logs a rejected token at the right level and clears the
// cookie when the session store was the authority that rejected it.
func handleGuardError(c echo.Context, cookies Cookies, err error) error {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return apperror.NewAuthFailed(err)
	}

	switch appErr.Type {
	case "session_expired", "user_not_found":
		cookies.Clear(c)
		slog.Debug("session rejected by store", slog.String("reason", appErr.Type))
	case "invalid_session_token":
		slog.Debug("session token failed verification")
	case "auth_failed":
		slog.Error("session validation failed",
			slog.Any("error", appErr.Internal),
			slog.String("path", c.Path()),
		)
	}
	return appErr
}

// shouldClearCookie reports whether the session store, rather than the
// token codec, rejected the session.
func shouldClearCookie(err error) bool {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == "session_expired" || appErr.Type == "user_not_found"
}
