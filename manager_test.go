package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/session/store"
)

type navRecorder struct {
	routes []string
}

func (n *navRecorder) navigate(route string) { n.routes = append(n.routes, route) }

func newTestManager(t *testing.T, cfg Config) (*Manager[testUser], *store.SessionStore, *navRecorder) {
	t.Helper()
	ctrl, sessionStore := newTestController(t, cfg)
	nav := &navRecorder{}
	mgr := NewManager(ctrl, WithNavigator[testUser](nav.navigate))
	return mgr, sessionStore, nav
}

func TestManagerLoginUpdatesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(loginPayload))
	}))
	defer srv.Close()

	mgr, _, nav := newTestManager(t, testConfig(srv.URL))

	user, err := mgr.LoginWithCredentials(context.Background(), map[string]string{"email": "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "u1", user.GetID())

	st := mgr.State()
	assert.Equal(t, StatusLoggedIn, st.Status)
	require.NotNil(t, st.User)
	assert.Equal(t, "u1", st.User.GetID())
	assert.False(t, st.Loading)
	assert.Empty(t, nav.routes)
}

func TestManagerLoginFailureCollapsesOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	mgr, sessionStore, nav := newTestManager(t, testConfig(srv.URL))

	_, err := mgr.LoginWithCredentials(context.Background(), map[string]string{"email": "a@b.com"})
	var reqErr *RequestFailedError
	require.ErrorAs(t, err, &reqErr)

	st := mgr.State()
	assert.Equal(t, StatusLoggedOut, st.Status)
	assert.Nil(t, st.User)
	assert.False(t, st.Loading)
	assert.Equal(t, []string{"/login"}, nav.routes, "failure handler must run exactly once")

	requireAbsent(t, sessionStore.AccessToken)
}

func TestManagerLoginWithResponse(t *testing.T) {
	mgr, sessionStore, _ := newTestManager(t, testConfig("http://unused"))

	user, err := mgr.LoginWithResponse(context.Background(), []byte(loginPayload))
	require.NoError(t, err)
	assert.Equal(t, "u1", user.GetID())
	assert.Equal(t, StatusLoggedIn, mgr.State().Status)

	access, found, err := sessionStore.AccessToken(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "A", access)
}

func TestManagerLogoutAlwaysLocalClear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	mgr, sessionStore, nav := newTestManager(t, testConfig(srv.URL))
	ctx := context.Background()

	_, err := mgr.LoginWithResponse(ctx, []byte(loginPayload))
	require.NoError(t, err)

	err = mgr.Logout(ctx, nil)
	assert.Error(t, err, "remote failure is reported")

	st := mgr.State()
	assert.Equal(t, StatusLoggedOut, st.Status)
	assert.Nil(t, st.User)
	assert.Equal(t, []string{"/login"}, nav.routes)

	requireAbsent(t, sessionStore.User)
	requireAbsent(t, sessionStore.AccessToken)
	requireAbsent(t, sessionStore.RefreshToken)
}

func TestManagerFetchUserWithoutProfileEndpoint(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.Profile = Endpoint{}
	mgr, _, nav := newTestManager(t, cfg)

	require.NoError(t, mgr.FetchUser(context.Background()))

	// The unknown status resolves: there is no session material to recover.
	assert.Equal(t, StatusLoggedOut, mgr.State().Status)
	assert.Empty(t, nav.routes)
}

func TestManagerFetchUserWithoutRefreshToken(t *testing.T) {
	var profileCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&profileCalls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr, _, _ := newTestManager(t, testConfig(srv.URL))

	require.NoError(t, mgr.FetchUser(context.Background()))
	assert.Zero(t, atomic.LoadInt32(&profileCalls), "no profile call without a refresh token")
	assert.Equal(t, StatusLoggedOut, mgr.State().Status)
}

func TestManagerFetchUserEstablishesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/me", r.URL.Path)
		_, _ = w.Write([]byte(`{"user":{"id":"u1","email":"a@b.com"}}`))
	}))
	defer srv.Close()

	mgr, sessionStore, _ := newTestManager(t, testConfig(srv.URL))
	ctx := context.Background()
	require.NoError(t, sessionStore.SetTokenPair(ctx, store.Token{Value: "A"}, store.Token{Value: "R"}))

	require.NoError(t, mgr.FetchUser(ctx))

	st := mgr.State()
	assert.Equal(t, StatusLoggedIn, st.Status)
	require.NotNil(t, st.User)
	assert.Equal(t, "u1", st.User.GetID())
}

func TestManagerFetchUserFailureCollapses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Not the unauthorized status, so no refresh cycle kicks in.
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	mgr, sessionStore, nav := newTestManager(t, testConfig(srv.URL))
	ctx := context.Background()
	require.NoError(t, sessionStore.SetTokenPair(ctx, store.Token{Value: "A"}, store.Token{Value: "R"}))

	err := mgr.FetchUser(ctx)
	var reqErr *RequestFailedError
	require.ErrorAs(t, err, &reqErr)

	assert.Equal(t, StatusLoggedOut, mgr.State().Status)
	assert.Equal(t, []string{"/login"}, nav.routes)
	requireAbsent(t, sessionStore.RefreshToken)
}

func TestManagerTickSkipsWhileLoading(t *testing.T) {
	var profileCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&profileCalls, 1)
		_, _ = w.Write([]byte(`{"user":{"id":"u1"}}`))
	}))
	defer srv.Close()

	mgr, _, _ := newTestManager(t, testConfig(srv.URL))
	mgr.setState(func(s *State[testUser]) {
		s.Status = StatusLoggedIn
		s.Loading = true
	})

	mgr.tick(context.Background())
	assert.Zero(t, atomic.LoadInt32(&profileCalls), "loading tick must not fetch")
}

func TestManagerTickSkipsWhenTokenPresent(t *testing.T) {
	var profileCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&profileCalls, 1)
		_, _ = w.Write([]byte(`{"user":{"id":"u1"}}`))
	}))
	defer srv.Close()

	mgr, sessionStore, _ := newTestManager(t, testConfig(srv.URL))
	ctx := context.Background()
	require.NoError(t, sessionStore.SetTokenPair(ctx, store.Token{Value: "A"}, store.Token{Value: "R"}))
	mgr.setState(func(s *State[testUser]) { s.Status = StatusLoggedIn })

	mgr.tick(ctx)
	assert.Zero(t, atomic.LoadInt32(&profileCalls))
}

func TestManagerTickRefetchesWhenTokenAbsent(t *testing.T) {
	var profileCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/me" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(&profileCalls, 1)
		_, _ = w.Write([]byte(`{"user":{"id":"u1"}}`))
	}))
	defer srv.Close()

	mgr, sessionStore, _ := newTestManager(t, testConfig(srv.URL))
	ctx := context.Background()

	// Access token gone, refresh token still there: the poll notices and
	// re-establishes the session through the profile endpoint.
	require.NoError(t, sessionStore.SetTokenPair(ctx, store.Token{}, store.Token{Value: "R"}))
	mgr.setState(func(s *State[testUser]) { s.Status = StatusLoggedIn })

	mgr.tick(ctx)
	assert.EqualValues(t, 1, atomic.LoadInt32(&profileCalls))
	assert.Equal(t, StatusLoggedIn, mgr.State().Status)
}

func TestManagerRefreshTokenFailureCollapses(t *testing.T) {
	mgr, _, nav := newTestManager(t, testConfig("http://unused"))
	mgr.setState(func(s *State[testUser]) { s.Status = StatusLoggedIn })

	// Nothing stored: refresh fails with ErrNoRefreshToken and the shared
	// handler collapses the session without re-raising.
	mgr.RefreshToken(context.Background())

	assert.Equal(t, StatusLoggedOut, mgr.State().Status)
	assert.Equal(t, []string{"/login"}, nav.routes)
}

func TestManagerObserverSeesConsistentSnapshots(t *testing.T) {
	var snapshots []State[testUser]
	ctrl, _ := newTestController(t, testConfig("http://unused"))
	mgr := NewManager(ctrl, WithObserver[testUser](func(s State[testUser]) {
		snapshots = append(snapshots, s)
	}))

	_, err := mgr.LoginWithResponse(context.Background(), []byte(loginPayload))
	require.NoError(t, err)

	require.NotEmpty(t, snapshots)
	final := snapshots[len(snapshots)-1]
	assert.Equal(t, StatusLoggedIn, final.Status)
	require.NotNil(t, final.User)
	assert.False(t, final.Loading)
	for _, s := range snapshots {
		if s.Status == StatusLoggedIn {
			assert.NotNil(t, s.User, "logged-in snapshot must carry a user")
		}
	}
}
