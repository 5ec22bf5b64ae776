package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the tri-state logged-in flag. It stays unknown until the first
// profile check completes.
type Status int

const (
	StatusUnknown Status = iota
	StatusLoggedIn
	StatusLoggedOut
)

func (s Status) String() string {
	switch s {
	case StatusLoggedIn:
		return "logged-in"
	case StatusLoggedOut:
		return "logged-out"
	default:
		return "unknown"
	}
}

// State is the orchestrator-held, in-memory session state. Status
// StatusLoggedIn implies User != nil; StatusLoggedOut implies User == nil
// and an empty session store.
type State[U User] struct {
	Status  Status
	User    *U
	Loading bool
}

// Manager is the process-wide session orchestrator: it holds the derived
// state, drives the liveness poll and exposes the public operations,
// delegating all protocol mechanics to the controller. One instance exists
// per application run.
type Manager[U User] struct {
	ctrl *Controller[U]

	mu    sync.Mutex
	state State[U]

	navigate func(route string)
	onChange func(State[U])
}

// ManagerOption customizes a Manager.
type ManagerOption[U User] func(*Manager[U])

// WithNavigator installs the navigation hook invoked with the configured
// login route on session loss and after logout.
func WithNavigator[U User](fn func(route string)) ManagerOption[U] {
	return func(m *Manager[U]) { m.navigate = fn }
}

// WithObserver installs a state observer. It is called with a consistent
// snapshot after every state transition, so a presentation layer never sees
// a half-updated state.
func WithObserver[U User](fn func(State[U])) ManagerOption[U] {
	return func(m *Manager[U]) { m.onChange = fn }
}

// NewManager creates a Manager bound to the given controller.
func NewManager[U User](ctrl *Controller[U], opts ...ManagerOption[U]) *Manager[U] {
	m := &Manager[U]{ctrl: ctrl}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Controller returns the underlying auth controller.
func (m *Manager[U]) Controller() *Controller[U] { return m.ctrl }

// State returns a snapshot of the current session state.
func (m *Manager[U]) State() State[U] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager[U]) setState(mutate func(*State[U])) {
	m.mu.Lock()
	mutate(&m.state)
	snapshot := m.state
	m.mu.Unlock()
	if m.onChange != nil {
		m.onChange(snapshot)
	}
}

func (m *Manager[U]) setLoading(loading bool) {
	m.setState(func(s *State[U]) { s.Loading = loading })
}

// LoginWithCredentials logs in through the controller and updates the
// state. Failures collapse the session and are re-raised to the caller.
func (m *Manager[U]) LoginWithCredentials(ctx context.Context, body any) (U, error) {
	return m.login(ctx, func() (U, error) {
		return m.ctrl.LoginWithCredentials(ctx, body)
	})
}

// LoginWithResponse establishes the session from an already-obtained login
// response body, for flows where the login call happened outside this
// system.
func (m *Manager[U]) LoginWithResponse(ctx context.Context, raw []byte) (U, error) {
	return m.login(ctx, func() (U, error) {
		return m.ctrl.IngestLoginResponse(ctx, raw)
	})
}

func (m *Manager[U]) login(ctx context.Context, op func() (U, error)) (U, error) {
	var zero U
	m.setLoading(true)
	user, err := op()
	if err != nil {
		m.handleFailure(ctx, err)
		return zero, err
	}
	m.setState(func(s *State[U]) {
		s.User = &user
		s.Status = StatusLoggedIn
		s.Loading = false
	})
	return user, nil
}

// Logout delegates to the controller and always clears local state and
// navigates to the login route, regardless of the remote call outcome. The
// remote error is returned so callers can log it.
func (m *Manager[U]) Logout(ctx context.Context, body any) error {
	err := m.ctrl.Logout(ctx, body)
	m.setState(func(s *State[U]) {
		s.User = nil
		s.Status = StatusLoggedOut
		s.Loading = false
	})
	m.navigateToLogin()
	return err
}

// FetchUser establishes or confirms the session from the profile endpoint.
// It is a no-op when no profile endpoint is configured or no refresh token
// is present; in that case an unknown status resolves to logged-out, since
// there is no session material to recover.
func (m *Manager[U]) FetchUser(ctx context.Context) error {
	cfg := m.ctrl.Config()
	usable := cfg.Profile.Configured()
	if usable {
		_, ok, err := m.ctrl.Store().RefreshToken(ctx)
		if err != nil {
			m.handleFailure(ctx, err)
			return err
		}
		usable = ok
	}
	if !usable {
		m.setState(func(s *State[U]) {
			if s.Status == StatusUnknown {
				s.Status = StatusLoggedOut
			}
			s.Loading = false
		})
		return nil
	}

	m.setLoading(true)
	user, ok, err := m.ctrl.FetchUserProfile(ctx)
	if err != nil {
		m.handleFailure(ctx, err)
		return err
	}
	m.setState(func(s *State[U]) {
		if ok {
			s.User = &user
			s.Status = StatusLoggedIn
		} else if s.Status == StatusUnknown {
			s.Status = StatusLoggedOut
		}
		s.Loading = false
	})
	return nil
}

// RefreshToken refreshes the access token opportunistically. Failures
// collapse the session through the shared handler and are not re-raised:
// the polling loop is the usual caller.
func (m *Manager[U]) RefreshToken(ctx context.Context) {
	if _, err := m.ctrl.RefreshAccessToken(ctx); err != nil {
		m.handleFailure(ctx, err)
	}
}

// handleFailure is the single point through which any operation failure
// collapses the session: clear the store, drop the in-memory state, stop
// loading and navigate to the login route. It runs exactly once per failed
// operation.
func (m *Manager[U]) handleFailure(ctx context.Context, err error) {
	log.Ctx(ctx).Warn().Err(err).Msg("auth operation failed, ending session")
	if clearErr := m.ctrl.Store().Clear(ctx); clearErr != nil {
		log.Ctx(ctx).Error().Err(clearErr).Msg("failed to clear session store")
	}
	m.setState(func(s *State[U]) {
		s.User = nil
		s.Status = StatusLoggedOut
		s.Loading = false
	})
	m.navigateToLogin()
}

func (m *Manager[U]) navigateToLogin() {
	if m.navigate == nil {
		return
	}
	if route := m.ctrl.Config().LoginRoute; route != "" {
		m.navigate(route)
	}
}

// Run establishes the initial session state with one profile fetch, then
// polls at the configured interval until ctx is cancelled.
//
// The poll treats "access token present in store" as a proxy for "session
// might still be valid": a token that expired with no expiry path configured
// is only noticed reactively, through an unauthorized response. This is an
// approximate liveness signal, documented behavior rather than a guarantee.
func (m *Manager[U]) Run(ctx context.Context) error {
	_ = m.FetchUser(ctx)

	ticker := time.NewTicker(m.ctrl.Config().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one liveness check. It skips while an auth operation is loading
// so the poll never overlaps itself, and only re-fetches the profile when
// the access token slot is empty.
func (m *Manager[U]) tick(ctx context.Context) {
	st := m.State()
	if st.Status != StatusLoggedIn || st.Loading {
		return
	}
	_, ok, err := m.ctrl.Store().AccessToken(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("liveness poll could not read access token")
		return
	}
	if ok {
		return
	}
	_ = m.FetchUser(ctx)
}
