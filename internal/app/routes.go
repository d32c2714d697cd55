package app

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/havenhealth/haven/internal/plugins/admin"
	"github.com/havenhealth/haven/internal/plugins/audit"
	"github.com/havenhealth/haven/internal/plugins/auth"
	"github.com/havenhealth/haven/internal/plugins/oauth"
)

// RegisterRoutes builds every plugin's stack (repository, service,
// handler) and mounts its routes. This is the single place where plugins
// are wired together.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// Health check endpoint for container orchestration. Verifies both
	// backing stores so a dead DB pulls the instance out of rotation.
	e.GET("/healthz", func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := a.DB.PingContext(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "database unreachable"})
		}
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "redis unreachable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// --- Shared auth infrastructure ---
	userRepo := auth.NewUserRepository(a.DB)
	sessionRepo := auth.NewSessionRepository(a.DB)
	codec := auth.NewTokenCodec(a.Config.Auth.SecretKey, a.Config.Auth.SessionTTL)
	cookies := auth.Cookies{
		Name:   a.Config.Auth.CookieName,
		Secure: !a.Config.IsDevelopment(),
		TTL:    a.Config.Auth.SessionTTL,
	}

	// --- audit plugin (recorder consumed by every other plugin) ---
	auditService := audit.NewService(audit.NewRepository(a.DB), a.Config.Audit)

	// --- auth plugin ---
	authService := auth.NewAuthService(userRepo, sessionRepo, codec, auditService, a.Config.Auth.SessionTTL)
	auth.RegisterRoutes(e, auth.NewHandler(authService, cookies), authService, cookies, a.Redis)

	// --- oauth plugin ---
	var providers []*oauth.Provider
	if a.Config.OAuth.Google.ClientID != "" {
		providers = append(providers, oauth.NewGoogleProvider(
			a.Config.OAuth.Google.ClientID,
			a.Config.OAuth.Google.ClientSecret,
			fmt.Sprintf("%s/oauth/google/callback", a.Config.BaseURL),
		))
	}
	if a.Config.OAuth.GitHub.ClientID != "" {
		providers = append(providers, oauth.NewGitHubProvider(
			a.Config.OAuth.GitHub.ClientID,
			a.Config.OAuth.GitHub.ClientSecret,
			fmt.Sprintf("%s/oauth/github/callback", a.Config.BaseURL),
		))
	}
	oauthService := oauth.NewService(providers, oauth.NewStateStore(), userRepo, authService, auditService)
	oauth.RegisterRoutes(e, oauth.NewHandler(oauthService, cookies), a.Redis)

	// --- admin plugin ---
	adminService := admin.NewService(userRepo, sessionRepo, auditService)
	admin.RegisterRoutes(e, admin.NewHandler(adminService), authService, cookies, a.Config.Auth.BypassRole)

	// --- audit plugin routes (admin-only reads) ---
	audit.RegisterRoutes(e, audit.NewHandler(auditService), authService, cookies, a.Config.Auth.BypassRole)
}
