package session

import (
	"net/http"

	"go.pilab.hu/session/store"
)

// CheckOptions configures RequestHasSession. Zero values fall back to the
// store's well-known cookie names.
type CheckOptions struct {
	AccessCookie  string
	RefreshCookie string

	// RequireRefreshToken additionally requires the refresh token cookie.
	RequireRefreshToken bool
}

// RequestHasSession reports whether an incoming request carries the session
// cookies. It is a pure presence check with no network call, meant for
// perimeter routing logic gating protected routes before rendering.
func RequestHasSession(r *http.Request, opts CheckOptions) bool {
	accessName := opts.AccessCookie
	if accessName == "" {
		accessName = store.KeyAccessToken
	}
	if !hasCookie(r, accessName) {
		return false
	}
	if opts.RequireRefreshToken {
		refreshName := opts.RefreshCookie
		if refreshName == "" {
			refreshName = store.KeyRefreshToken
		}
		return hasCookie(r, refreshName)
	}
	return true
}

func hasCookie(r *http.Request, name string) bool {
	c, err := r.Cookie(name)
	return err == nil && c.Value != ""
}
