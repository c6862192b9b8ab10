package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"http://Example.com", " ", "not-a-url"}, discardLogger)

	cases := map[string]bool{
		"":                        false,
		"http://example.com":      true,
		"HTTP://EXAMPLE.COM":      true,
		"http://example.com:8080": false,
		"https://example.com":     false,
		"javascript:alert(1)":     false,
		"http://":                 false,
	}
	for origin, want := range cases {
		require.Equal(t, want, p.checkOrigin(requestWithOrigin(origin)), "origin %q", origin)
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	p := newOriginPolicy([]string{"*"}, discardLogger)

	require.True(t, p.allows(requestWithOrigin("https://anywhere.example")))
	require.False(t, p.allows(requestWithOrigin("")), "a missing origin is never allowed")
}

func TestCORSMiddleware(t *testing.T) {
	p := newOriginPolicy([]string{"http://app.example"}, discardLogger)
	called := false
	h := p.cors(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	preflight := httptest.NewRequest(http.MethodOptions, "/rooms", nil)
	preflight.Header.Set("Origin", "http://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.False(t, called)

	other := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	other.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	require.True(t, called)
}
