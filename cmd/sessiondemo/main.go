// Command sessiondemo runs a stub identity API and drives the full client
// stack against it: login, an authorized call, a forced token refresh and
// logout. Useful for manually verifying the request-retry protocol.
package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	session "go.pilab.hu/session"
	"go.pilab.hu/session/store"
)

const accessTokenTTL = 2 * time.Second

var signingKey = []byte("sessiondemo-signing-key")

// demoUser is the application-defined user shape.
type demoUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (u demoUser) GetID() string { return u.ID }

// stubAPI is a minimal token-issuing service, enough to exercise the client.
type stubAPI struct {
	passwordHash  []byte
	refreshTokens map[string]bool
}

func newStubAPI() *stubAPI {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to hash demo password")
	}
	return &stubAPI{passwordHash: hash, refreshTokens: make(map[string]bool)}
}

func (s *stubAPI) issueTokens(c echo.Context) error {
	now := time.Now()
	accessExp := now.Add(accessTokenTTL)
	claims := jwt.MapClaims{
		"sub": "65d9ce7cefae2dd3c4da3e19",
		"iat": now.Unix(),
		"exp": accessExp.Unix(),
		"jti": uuid.NewString(),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	refreshToken := uuid.NewString()
	s.refreshTokens[refreshToken] = true

	return c.JSON(http.StatusOK, echo.Map{
		"user": demoUser{ID: "65d9ce7cefae2dd3c4da3e19", Email: "a@b.com", Name: "Demo User"},
		"access": echo.Map{
			"token":     accessToken,
			"expiresAt": accessExp.Format(time.RFC3339),
		},
		"refresh": echo.Map{
			"token":     refreshToken,
			"expiresAt": now.Add(24 * time.Hour).Format(time.RFC3339),
		},
	})
}

func (s *stubAPI) signin(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(body.Password)); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	return s.issueTokens(c)
}

func (s *stubAPI) refresh(c echo.Context) error {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !s.refreshTokens[body.RefreshToken] {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown refresh token")
	}
	delete(s.refreshTokens, body.RefreshToken)
	return s.issueTokens(c)
}

func (s *stubAPI) requireToken(c echo.Context) error {
	auth := c.Request().Header.Get("Authorization")
	if len(auth) < 8 || auth[:7] != "Bearer " {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}
	_, err := jwt.Parse(auth[7:], func(*jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return nil
}

func (s *stubAPI) me(c echo.Context) error {
	if err := s.requireToken(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user": demoUser{ID: "65d9ce7cefae2dd3c4da3e19", Email: "a@b.com", Name: "Demo User"},
	})
}

func (s *stubAPI) notes(c echo.Context) error {
	if err := s.requireToken(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, []string{"first note", "second note"})
}

func (s *stubAPI) signout(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	api := newStubAPI()
	e := echo.New()
	e.HideBanner = true
	e.POST("/auth/signin", api.signin)
	e.POST("/auth/refresh-token", api.refresh)
	e.GET("/auth/me", api.me)
	e.POST("/auth/signout", api.signout)
	e.GET("/api/notes", api.notes)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}
	e.Listener = listener
	go func() {
		if serveErr := e.Start(""); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatal().Err(serveErr).Msg("stub API failed")
		}
	}()
	baseURL := "http://" + listener.Addr().String()
	log.Info().Str("base_url", baseURL).Msg("stub identity API listening")

	cfg := session.Config{
		BaseURL:  baseURL,
		UserPath: "user",
		AccessToken: session.TokenPaths{
			Token:     "access.token",
			ExpiresAt: "access.expiresAt",
		},
		RefreshToken: session.TokenPaths{
			Token:     "refresh.token",
			ExpiresAt: "refresh.expiresAt",
		},
		Login:      session.Endpoint{URL: "/auth/signin", Method: session.MethodPost},
		Logout:     session.Endpoint{URL: "/auth/signout", Method: session.MethodPost},
		Refresh:    session.Endpoint{URL: "/auth/refresh-token", Method: session.MethodPost},
		Profile:    session.Endpoint{URL: "/auth/me", Method: session.MethodGet},
		LoginRoute: "/login",
	}

	backend := store.NewMemoryBackend()
	defer backend.Close()

	ctrl, err := session.NewController[demoUser](cfg, store.New(backend))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build controller")
	}
	mgr := session.NewManager(ctrl,
		session.WithNavigator[demoUser](func(route string) {
			log.Info().Str("route", route).Msg("navigation requested")
		}),
		session.WithObserver[demoUser](func(st session.State[demoUser]) {
			log.Info().Stringer("status", st.Status).Bool("loading", st.Loading).Msg("state changed")
		}),
	)

	ctx := context.Background()

	user, err := mgr.LoginWithCredentials(ctx, map[string]string{
		"email":    "a@b.com",
		"password": "secret",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("login failed")
	}
	log.Info().Str("user_id", user.GetID()).Msg("logged in")

	// Let the access token lapse so the next call runs through the
	// unauthorized-refresh-replay cycle.
	time.Sleep(accessTokenTTL + 500*time.Millisecond)

	resp, err := ctrl.HTTPClient().Get(baseURL + "/api/notes")
	if err != nil {
		log.Fatal().Err(err).Msg("notes call failed")
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	log.Info().Int("status", resp.StatusCode).Str("body", string(body)).Msg("notes fetched after silent refresh")

	if err := mgr.Logout(ctx, nil); err != nil {
		log.Warn().Err(err).Msg("remote logout reported an error")
	}
	log.Info().Stringer("status", mgr.State().Status).Msg("demo finished")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("stub API shutdown")
	}
}
