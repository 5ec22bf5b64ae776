package session

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Method is restricted to the verbs the remote API contract allows.
type Method string

const (
	MethodGet  Method = http.MethodGet
	MethodPost Method = http.MethodPost
)

// Endpoint describes one remote API operation. A zero Endpoint means the
// operation is not configured.
type Endpoint struct {
	URL    string
	Method Method
}

// Configured reports whether the endpoint is set.
func (e Endpoint) Configured() bool { return e.URL != "" }

// TokenPaths names where a token and its optional expiry live inside a JSON
// response body, as dot-separated field paths ("access.token").
type TokenPaths struct {
	Token     string
	ExpiresAt string // optional
}

// Config is the full static configuration of the session manager. It is
// fixed for the lifetime of a Controller.
type Config struct {
	// BaseURL prefixes every relative endpoint URL.
	BaseURL string

	// UserPath is the field path of the user object in login, refresh and
	// profile responses.
	UserPath string

	// AccessToken names the access token paths. Required.
	AccessToken TokenPaths

	// RefreshToken names the refresh token paths. Leaving it zero disables
	// refresh entirely: the first unauthorized response ends the session.
	RefreshToken TokenPaths

	// Login is required; the rest are optional.
	Login   Endpoint
	Logout  Endpoint
	Refresh Endpoint
	Profile Endpoint

	// LoginRoute is the application route to navigate to on session loss.
	LoginRoute string

	// UnauthorizedStatus is the HTTP status the remote API uses to signal an
	// invalid or expired access token. Defaults to 401.
	UnauthorizedStatus int

	// PollInterval is the liveness poll period. Defaults to 1s.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.UnauthorizedStatus == 0 {
		c.UnauthorizedStatus = http.StatusUnauthorized
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	for _, ep := range []*Endpoint{&c.Login, &c.Logout, &c.Refresh, &c.Profile} {
		if ep.Configured() && ep.Method == "" {
			ep.Method = MethodPost
		}
	}
}

// Validate reports configuration errors that would make the protocol
// unusable.
func (c *Config) Validate() error {
	if !c.Login.Configured() {
		return fmt.Errorf("config: login endpoint is required")
	}
	if c.UserPath == "" {
		return fmt.Errorf("config: user field path is required")
	}
	if c.AccessToken.Token == "" {
		return fmt.Errorf("config: access token field path is required")
	}
	if c.RefreshToken.Token != "" && !c.Refresh.Configured() {
		return fmt.Errorf("config: refresh token path set but refresh endpoint missing")
	}
	for _, ep := range []Endpoint{c.Login, c.Logout, c.Refresh, c.Profile} {
		if !ep.Configured() {
			continue
		}
		if ep.Method != MethodGet && ep.Method != MethodPost {
			return fmt.Errorf("config: unsupported method %q for %s", ep.Method, ep.URL)
		}
	}
	return nil
}

// refreshEnabled reports whether the refresh protocol is configured at all.
func (c *Config) refreshEnabled() bool {
	return c.RefreshToken.Token != "" && c.Refresh.Configured()
}

// endpointURL resolves an endpoint against the base URL. Absolute endpoint
// URLs are used as-is.
func (c *Config) endpointURL(e Endpoint) string {
	if strings.Contains(e.URL, "://") || c.BaseURL == "" {
		return e.URL
	}
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + strings.TrimPrefix(e.URL, "/")
}
