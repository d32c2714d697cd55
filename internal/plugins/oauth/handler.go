package oauth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/havenhealth/haven/internal/plugins/auth"
)

// Handler handles the two HTTP legs of the OAuth flow.
type Handler struct {
	service Service
	cookies auth.Cookies
}

// NewHandler creates a new OAuth handler.
func NewHandler(service Service, cookies auth.Cookies) *Handler {
	return &Handler{service: service, cookies: cookies}
}

// Begin redirects the browser to the provider's consent screen
// (GET /oauth/:provider).
func (h *Handler) Begin(c echo.Context) error {
	url, err := h.service.Begin(c.Request().Context(), c.Param("provider"))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}

// Callback completes the flow: the provider sends the browser back here
// with state and code, and a successful exchange sets the session cookie
// (GET /oauth/:provider/callback).
func (h *Handler) Callback(c echo.Context) error {
	device := auth.DeviceInfo{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
	}

	token, _, err := h.service.Callback(
		c.Request().Context(),
		c.Param("provider"),
		c.QueryParam("state"),
		c.QueryParam("code"),
		device,
	)
	if err != nil {
		return err
	}

	h.cookies.Set(c, token)
	return c.Redirect(http.StatusSeeOther, "/")
}

// Providers lists the configured sign-in providers (GET /oauth/providers).
func (h *Handler) Providers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"providers": h.service.Providers()})
}
