package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Well-known slot keys. Backends that surface entries to the browser (the
// cookie backend) use these as cookie names, which is what allows
// server-side perimeter code to check for a session without a network call.
const (
	KeyUser         = "ss_user"
	KeyAccessToken  = "ss_access_token"
	KeyRefreshToken = "ss_refresh_token"
)

// Backend is the minimal key-value contract a storage medium has to honor.
// A zero expiresAt means the entry does not expire. Entries whose expiry is
// in the past must be reported as absent by Get.
type Backend interface {
	Set(ctx context.Context, key, value string, expiresAt time.Time) error
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Remove(ctx context.Context, key string) error
}

// Error wraps a storage-medium failure. It is distinct from the protocol
// error kinds so callers can tell a broken medium from a rejected request.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("session storage %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Token is one stored credential with an optional expiry instant.
type Token struct {
	Value     string
	ExpiresAt time.Time // zero means no known expiry
}

// SessionStore is the typed persistence layer for the three session records:
// user snapshot (serialized JSON), access token and refresh token. It has no
// network knowledge; all writes come from the auth controller.
//
// Multi-slot updates (the token pair, Clear) are guarded by a single lock so
// readers never observe an access token without its paired refresh token
// from the same update.
type SessionStore struct {
	mu      sync.RWMutex
	backend Backend
}

// New creates a SessionStore over the given backend.
func New(backend Backend) *SessionStore {
	return &SessionStore{backend: backend}
}

// SetUser persists the serialized user snapshot.
func (s *SessionStore) SetUser(ctx context.Context, snapshot string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wrap("set user", s.backend.Set(ctx, KeyUser, snapshot, expiresAt))
}

// User returns the serialized user snapshot, if present.
func (s *SessionStore) User(ctx context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok, err := s.backend.Get(ctx, KeyUser)
	return v, ok && v != "", wrap("get user", err)
}

// SetTokenPair persists the access and refresh tokens as one atomic update.
// A refresh token with an empty value leaves the refresh slot untouched
// (refresh may be disabled by configuration).
func (s *SessionStore) SetTokenPair(ctx context.Context, access, refresh Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Set(ctx, KeyAccessToken, access.Value, access.ExpiresAt); err != nil {
		return wrap("set access token", err)
	}
	if refresh.Value == "" {
		return nil
	}
	return wrap("set refresh token", s.backend.Set(ctx, KeyRefreshToken, refresh.Value, refresh.ExpiresAt))
}

// AccessToken returns the stored access token, if present and not expired.
func (s *SessionStore) AccessToken(ctx context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok, err := s.backend.Get(ctx, KeyAccessToken)
	return v, ok && v != "", wrap("get access token", err)
}

// RefreshToken returns the stored refresh token, if present and not expired.
func (s *SessionStore) RefreshToken(ctx context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok, err := s.backend.Get(ctx, KeyRefreshToken)
	return v, ok && v != "", wrap("get refresh token", err)
}

// Clear removes all three session records.
func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range []string{KeyUser, KeyAccessToken, KeyRefreshToken} {
		if err := s.backend.Remove(ctx, key); err != nil {
			return wrap("clear", err)
		}
	}
	return nil
}
