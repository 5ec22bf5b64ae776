package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/session/store"
)

// User is the minimal contract an application user type has to satisfy. The
// concrete shape is supplied by the integrating application.
type User interface {
	GetID() string
}

// TokenPair is the result of a successful login ingestion or refresh. The
// refresh token is zero when refresh is disabled by configuration.
type TokenPair struct {
	Access  store.Token
	Refresh store.Token
}

// Controller owns the HTTP transport and the full token protocol: attaching
// tokens to requests, detecting unauthorized responses, performing
// login/logout/refresh/profile calls and reconciling responses into the
// session store through the configured field paths.
type Controller[U User] struct {
	cfg       Config
	store     *store.SessionStore
	transport *Transport
	client    *http.Client
}

// NewController creates a controller bound to the given configuration and
// session store.
func NewController[U User](cfg Config, sessionStore *store.SessionStore) (*Controller[U], error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller[U]{cfg: cfg, store: sessionStore}
	c.transport = &Transport{
		base:  http.DefaultTransport,
		store: sessionStore,
		cfg:   &c.cfg,
	}
	c.transport.refresh = func(ctx context.Context) (string, error) {
		pair, err := c.RefreshAccessToken(ctx)
		if err != nil {
			return "", err
		}
		return pair.Access.Value, nil
	}
	c.client = &http.Client{Transport: c.transport}
	return c, nil
}

// HTTPClient returns the shared transport instance. It is the only
// sanctioned channel for the application's own API calls, because it alone
// carries the interception pipeline.
func (c *Controller[U]) HTTPClient() *http.Client { return c.client }

// Store returns the session store the controller writes to.
func (c *Controller[U]) Store() *store.SessionStore { return c.store }

// Config returns a copy of the effective configuration.
func (c *Controller[U]) Config() Config { return c.cfg }

type callOpts struct {
	skipAuth bool
	noRetry  bool
}

// call performs one endpoint request and returns the raw response body.
// Non-success statuses surface as *RequestFailedError.
func (c *Controller[U]) call(ctx context.Context, ep Endpoint, body any, opts callOpts) ([]byte, error) {
	if opts.skipAuth {
		ctx = withSkipAuth(ctx)
	}
	if opts.noRetry {
		ctx = withNoRetry(ctx)
	}

	target := c.cfg.endpointURL(ep)

	var req *http.Request
	var err error
	switch ep.Method {
	case MethodGet:
		target, err = appendQuery(target, body)
		if err != nil {
			return nil, err
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	default:
		var payload io.Reader
		if body != nil {
			encoded, merr := json.Marshal(body)
			if merr != nil {
				return nil, fmt.Errorf("encode request body: %w", merr)
			}
			payload = bytes.NewReader(encoded)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, payload)
		if err == nil && body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", target, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestFailedError{Status: resp.StatusCode, Endpoint: ep.URL}
	}
	return raw, nil
}

// appendQuery encodes a body value as query parameters for GET endpoints.
func appendQuery(target string, body any) (string, error) {
	if body == nil {
		return target, nil
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode query params: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return "", fmt.Errorf("query params must be an object: %w", err)
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	q := u.Query()
	for k, v := range fields {
		q.Set(k, fmt.Sprint(v))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LoginWithCredentials invokes the login endpoint with the given body and
// ingests the response. The call carries no bearer header even if a stale
// token is present.
func (c *Controller[U]) LoginWithCredentials(ctx context.Context, body any) (U, error) {
	var zero U
	raw, err := c.call(ctx, c.cfg.Login, body, callOpts{skipAuth: true, noRetry: true})
	if err != nil {
		return zero, err
	}
	return c.IngestLoginResponse(ctx, raw)
}

// IngestLoginResponse extracts the user and token pair out of an
// already-obtained login response body and persists them, without making a
// network call. Nothing is persisted unless every required field resolves.
func (c *Controller[U]) IngestLoginResponse(ctx context.Context, raw []byte) (U, error) {
	var zero U

	userRes, ok := resolveField(raw, c.cfg.UserPath)
	if !ok {
		return zero, ErrMalformedResponse
	}
	var user U
	if err := json.Unmarshal([]byte(userRes.Raw), &user); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	pair, err := c.extractTokenPair(raw)
	if err != nil {
		return zero, err
	}

	if err := c.persistSession(ctx, userRes.Raw, pair); err != nil {
		return zero, err
	}

	log.Ctx(ctx).Debug().Str("user_id", user.GetID()).Msg("session established")
	return user, nil
}

// Logout calls the logout endpoint when configured and clears the session
// store regardless of the call outcome. The remote error, if any, is
// reported after the store is cleared: logout is best-effort remote,
// always-effective locally.
func (c *Controller[U]) Logout(ctx context.Context, body any) error {
	var remoteErr error
	if c.cfg.Logout.Configured() {
		_, remoteErr = c.call(ctx, c.cfg.Logout, body, callOpts{noRetry: true})
	}
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	return remoteErr
}

// FetchUserProfile calls the profile endpoint when configured and returns
// the extracted user. The user snapshot is not re-persisted; the caller
// decides. The second result is false when no profile endpoint is
// configured.
func (c *Controller[U]) FetchUserProfile(ctx context.Context) (U, bool, error) {
	var zero U
	if !c.cfg.Profile.Configured() {
		return zero, false, nil
	}

	raw, err := c.call(ctx, c.cfg.Profile, nil, callOpts{})
	if err != nil {
		return zero, false, err
	}

	userRes, ok := resolveField(raw, c.cfg.UserPath)
	if !ok {
		return zero, false, ErrMalformedResponse
	}
	var user U
	if err := json.Unmarshal([]byte(userRes.Raw), &user); err != nil {
		return zero, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return user, true, nil
}

// RefreshAccessToken exchanges the stored refresh token for a new token
// pair and persists it. It fails with ErrNoRefreshToken when refresh is not
// configured or nothing is stored.
func (c *Controller[U]) RefreshAccessToken(ctx context.Context) (TokenPair, error) {
	if !c.cfg.refreshEnabled() {
		return TokenPair{}, ErrNoRefreshToken
	}
	refreshToken, ok, err := c.store.RefreshToken(ctx)
	if err != nil {
		return TokenPair{}, err
	}
	if !ok {
		return TokenPair{}, ErrNoRefreshToken
	}

	raw, err := c.call(ctx, c.cfg.Refresh,
		map[string]string{"refreshToken": refreshToken},
		callOpts{noRetry: true})
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := c.extractTokenPair(raw)
	if err != nil {
		return TokenPair{}, err
	}
	if err := c.store.SetTokenPair(ctx, pair.Access, pair.Refresh); err != nil {
		return TokenPair{}, err
	}

	log.Ctx(ctx).Debug().Msg("access token refreshed")
	return pair, nil
}

// extractTokenPair resolves the configured token paths. It fails with
// ErrMissingTokens if any required path is absent, before anything is
// persisted.
func (c *Controller[U]) extractTokenPair(raw []byte) (TokenPair, error) {
	accessRes, ok := resolveField(raw, c.cfg.AccessToken.Token)
	if !ok {
		return TokenPair{}, fmt.Errorf("%w: %s", ErrMissingTokens, c.cfg.AccessToken.Token)
	}
	pair := TokenPair{Access: store.Token{Value: accessRes.String()}}
	if res, ok := resolveField(raw, c.cfg.AccessToken.ExpiresAt); ok {
		if t, valid := parseExpiry(res); valid {
			pair.Access.ExpiresAt = t
		}
	}

	if c.cfg.RefreshToken.Token == "" {
		return pair, nil
	}
	refreshRes, ok := resolveField(raw, c.cfg.RefreshToken.Token)
	if !ok {
		return TokenPair{}, fmt.Errorf("%w: %s", ErrMissingTokens, c.cfg.RefreshToken.Token)
	}
	pair.Refresh = store.Token{Value: refreshRes.String()}
	if res, ok := resolveField(raw, c.cfg.RefreshToken.ExpiresAt); ok {
		if t, valid := parseExpiry(res); valid {
			pair.Refresh.ExpiresAt = t
		}
	}
	return pair, nil
}

func (c *Controller[U]) persistSession(ctx context.Context, userRaw string, pair TokenPair) error {
	if err := c.store.SetUser(ctx, userRaw, pair.Refresh.ExpiresAt); err != nil {
		return err
	}
	return c.store.SetTokenPair(ctx, pair.Access, pair.Refresh)
}
