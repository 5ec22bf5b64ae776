package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/session/store"
)

func gateRequest(t *testing.T, cfg GateConfig, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/dashboard", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, RequireSession(cfg))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireSessionAllowsWithCookie(t *testing.T) {
	rec := gateRequest(t, GateConfig{},
		&http.Cookie{Name: store.KeyAccessToken, Value: "A"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRequireSessionRejectsWithoutCookie(t *testing.T) {
	rec := gateRequest(t, GateConfig{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSessionRedirectsToLoginRoute(t *testing.T) {
	rec := gateRequest(t, GateConfig{LoginRoute: "/login"})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRequireSessionRefreshTokenRequired(t *testing.T) {
	cfg := GateConfig{RequireRefreshToken: true}

	rec := gateRequest(t, cfg, &http.Cookie{Name: store.KeyAccessToken, Value: "A"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = gateRequest(t, cfg,
		&http.Cookie{Name: store.KeyAccessToken, Value: "A"},
		&http.Cookie{Name: store.KeyRefreshToken, Value: "R"})
	assert.Equal(t, http.StatusOK, rec.Code)
}
