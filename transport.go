package session

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"go.pilab.hu/session/store"
)

type contextKey int

const (
	ctxSkipAuth contextKey = iota + 1
	ctxNoRetry
)

// withSkipAuth marks a request that must not carry the bearer header. Login
// must not depend on prior session state.
func withSkipAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxSkipAuth, true)
}

func skipAuth(ctx context.Context) bool {
	v, _ := ctx.Value(ctxSkipAuth).(bool)
	return v
}

// withNoRetry marks a request that must not trigger the unauthorized-refresh
// cycle: the login and refresh calls themselves, and replays.
func withNoRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxNoRetry, true)
}

func noRetry(ctx context.Context) bool {
	v, _ := ctx.Value(ctxNoRetry).(bool)
	return v
}

// Transport is the interception pipeline of the shared HTTP client. The
// pre-send hook attaches the stored access token as a bearer header; the
// post-receive hook watches for the configured unauthorized status, runs a
// refresh shared across all concurrently failing requests, and replays the
// original request once with the new token.
type Transport struct {
	base  http.RoundTripper
	store *store.SessionStore
	cfg   *Config

	// refresh is wired to the controller's RefreshAccessToken and returns
	// the new access token value.
	refresh func(ctx context.Context) (string, error)

	// group is the shared in-flight refresh handle: late arrivals attach to
	// the pending refresh instead of starting their own.
	group singleflight.Group
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	out := req.Clone(ctx)
	if !skipAuth(ctx) {
		// Attachment is unconditional on validity: a stale token is sent and
		// rejected, which is what drives the refresh cycle.
		if token, ok, err := t.store.AccessToken(ctx); err != nil {
			return nil, err
		} else if ok {
			out.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || noRetry(ctx) || resp.StatusCode != t.cfg.UnauthorizedStatus {
		return resp, err
	}

	// Unauthorized. A request whose body cannot be rebuilt cannot be
	// replayed; surface the original response untouched.
	retry, ok := rewoundRequest(req)
	if !ok {
		return resp, nil
	}

	token, refreshErr := t.coalescedRefresh(ctx)
	if refreshErr != nil {
		// Refresh failed or is not configured: the session is over. Tear it
		// down and surface the original unauthorized response.
		if clearErr := t.store.Clear(ctx); clearErr != nil {
			log.Ctx(ctx).Error().Err(clearErr).Msg("failed to clear session after refresh failure")
		}
		log.Ctx(ctx).Debug().Err(refreshErr).Msg("session torn down after unauthorized response")
		return resp, nil
	}

	drainBody(resp)

	replayID := uuid.NewString()
	log.Ctx(ctx).Debug().
		Str("replay_id", replayID).
		Str("url", req.URL.String()).
		Msg("replaying request with refreshed access token")

	retry.Header.Set("Authorization", "Bearer "+token)
	retry.Header.Set("X-Replay-Id", replayID)
	return t.base.RoundTrip(retry)
}

// coalescedRefresh funnels every caller into at most one outstanding refresh
// operation. All waiters observe the same outcome and replay with the token
// that single refresh produced.
func (t *Transport) coalescedRefresh(ctx context.Context) (string, error) {
	v, err, _ := t.group.Do("refresh", func() (interface{}, error) {
		return t.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// rewoundRequest rebuilds a request for replay. Requests without a body are
// always replayable; requests with a body need GetBody.
func rewoundRequest(req *http.Request) (*http.Request, bool) {
	retry := req.Clone(withNoRetry(req.Context()))
	if req.Body == nil || req.Body == http.NoBody {
		retry.Body = nil
		return retry, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	retry.Body = body
	return retry, true
}

func drainBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
