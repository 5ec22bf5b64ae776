package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.pilab.hu/session/store"
)

func requestWithCookies(cookies ...*http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

func TestRequestHasSession(t *testing.T) {
	access := &http.Cookie{Name: store.KeyAccessToken, Value: "A"}
	refresh := &http.Cookie{Name: store.KeyRefreshToken, Value: "R"}

	testCases := []struct {
		name     string
		request  *http.Request
		opts     CheckOptions
		expected bool
	}{
		{name: "no cookies", request: requestWithCookies(), expected: false},
		{name: "access cookie present", request: requestWithCookies(access), expected: true},
		{name: "empty access cookie", request: requestWithCookies(&http.Cookie{Name: store.KeyAccessToken}), expected: false},
		{
			name:     "refresh required but absent",
			request:  requestWithCookies(access),
			opts:     CheckOptions{RequireRefreshToken: true},
			expected: false,
		},
		{
			name:     "refresh required and present",
			request:  requestWithCookies(access, refresh),
			opts:     CheckOptions{RequireRefreshToken: true},
			expected: true,
		},
		{
			name:     "custom cookie names",
			request:  requestWithCookies(&http.Cookie{Name: "my_at", Value: "A"}),
			opts:     CheckOptions{AccessCookie: "my_at"},
			expected: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, RequestHasSession(tc.request, tc.opts))
		})
	}
}
