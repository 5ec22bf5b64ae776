package store

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// CookieBackend binds the session slots to HTTP cookies on a single
// request/response pair. This keeps the persisted layout readable by the
// user agent and by perimeter code inspecting an incoming request, so a
// protected route can be gated without a network call.
//
// Expiry of cookies read from the request is enforced by the user agent;
// writes performed during the same request are replayed to readers so the
// store contract holds within one request cycle.
type CookieBackend struct {
	w http.ResponseWriter
	r *http.Request

	path     string
	secure   bool
	sameSite http.SameSite

	mu      sync.Mutex
	pending map[string]*http.Cookie
}

// CookieOption customizes the cookies a CookieBackend emits.
type CookieOption func(*CookieBackend)

// WithCookiePath sets the cookie path. Defaults to "/".
func WithCookiePath(path string) CookieOption {
	return func(b *CookieBackend) { b.path = path }
}

// WithSecureCookies marks emitted cookies as Secure.
func WithSecureCookies() CookieOption {
	return func(b *CookieBackend) { b.secure = true }
}

// NewCookieBackend creates a backend bound to one request/response pair.
func NewCookieBackend(w http.ResponseWriter, r *http.Request, opts ...CookieOption) *CookieBackend {
	b := &CookieBackend{
		w:        w,
		r:        r,
		path:     "/",
		sameSite: http.SameSiteLaxMode,
		pending:  make(map[string]*http.Cookie),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Set implements Backend.Set.
func (b *CookieBackend) Set(_ context.Context, key, value string, expiresAt time.Time) error {
	cookie := &http.Cookie{
		Name:     key,
		Value:    url.QueryEscape(value),
		Path:     b.path,
		Secure:   b.secure,
		SameSite: b.sameSite,
	}
	if !expiresAt.IsZero() {
		cookie.Expires = expiresAt
	}

	b.mu.Lock()
	b.pending[key] = cookie
	b.mu.Unlock()

	http.SetCookie(b.w, cookie)
	return nil
}

// Get implements Backend.Get. Same-request writes shadow request cookies.
func (b *CookieBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	pending, ok := b.pending[key]
	b.mu.Unlock()

	if ok {
		if pending.Value == "" || (!pending.Expires.IsZero() && time.Now().After(pending.Expires)) {
			return "", false, nil
		}
		value, err := url.QueryUnescape(pending.Value)
		if err != nil {
			return "", false, wrap("decode cookie", err)
		}
		return value, true, nil
	}

	cookie, err := b.r.Cookie(key)
	if err != nil || cookie.Value == "" {
		return "", false, nil
	}
	value, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return "", false, wrap("decode cookie", err)
	}
	return value, true, nil
}

// Remove implements Backend.Remove by emitting an expired cookie.
func (b *CookieBackend) Remove(_ context.Context, key string) error {
	cookie := &http.Cookie{
		Name:     key,
		Value:    "",
		Path:     b.path,
		MaxAge:   -1,
		Secure:   b.secure,
		SameSite: b.sameSite,
	}

	b.mu.Lock()
	b.pending[key] = cookie
	b.mu.Unlock()

	http.SetCookie(b.w, cookie)
	return nil
}

var _ Backend = (*CookieBackend)(nil)
