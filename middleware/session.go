package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	session "go.pilab.hu/session"
)

// GateConfig configures RequireSession.
type GateConfig struct {
	// RequireRefreshToken additionally requires the refresh token cookie.
	RequireRefreshToken bool

	// LoginRoute, when set, redirects requests without a session instead of
	// answering 401.
	LoginRoute string

	// AccessCookie and RefreshCookie override the default cookie names.
	AccessCookie  string
	RefreshCookie string
}

// RequireSession gates protected routes on the presence of the session
// cookies. It performs no token validation; that is the remote API's job and
// happens on the first proxied call.
func RequireSession(cfg GateConfig) echo.MiddlewareFunc {
	opts := session.CheckOptions{
		AccessCookie:        cfg.AccessCookie,
		RefreshCookie:       cfg.RefreshCookie,
		RequireRefreshToken: cfg.RequireRefreshToken,
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if session.RequestHasSession(c.Request(), opts) {
				return next(c)
			}
			if cfg.LoginRoute != "" {
				return c.Redirect(http.StatusFound, cfg.LoginRoute)
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "no session")
		}
	}
}
