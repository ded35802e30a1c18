package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"taxigate/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestCheckAuth(t *testing.T) {
	auth := NewHTTPAuth(config.APIConfig{
		Auth: config.APIAuthConfig{Enabled: true, HeaderAPIKey: "X-Admin-Key", APIKeys: []string{" secret ", ""}},
	})

	tests := []struct {
		name string
		key  string
		err  error
	}{
		{"Missing", "", errMissingAPIKey},
		{"Blank", "   ", errMissingAPIKey},
		{"Wrong", "other", errInvalidAPIKey},
		{"Trimmed", "secret", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.key != "" {
				r.Header.Set("x-admin-key", tt.key)
			}
			assert.Equal(t, tt.err, auth.checkAuth(r))
		})
	}
}

func TestHeaderNameDefault(t *testing.T) {
	auth := NewHTTPAuth(config.APIConfig{})
	assert.Equal(t, apiKeyHeaderDefault, auth.headerName())
}

func TestClientKey(t *testing.T) {
	auth := NewHTTPAuth(config.APIConfig{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", auth.clientKey(r))

	r.Header.Set("x-api-key", "k1")
	assert.Equal(t, "k1", auth.clientKey(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "garbage"
	assert.Equal(t, clientKeyUnknown, auth.clientKey(r))
}

func TestRateLimiter(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		l := newRateLimiter(config.APIRateLimitConfig{})
		for i := 0; i < 100; i++ {
			assert.True(t, l.allow("a"))
		}
	})

	t.Run("DefaultBurst", func(t *testing.T) {
		l := newRateLimiter(config.APIRateLimitConfig{RPS: 0.001})
		for i := 0; i < 5; i++ {
			assert.True(t, l.allow("a"))
		}
		assert.False(t, l.allow("a"))
		assert.True(t, l.allow("b"))
	})

	t.Run("SameLimiterPerKey", func(t *testing.T) {
		l := newRateLimiter(config.APIRateLimitConfig{RPS: 1, Burst: 2})
		assert.Same(t, l.getLimiter("a"), l.getLimiter("a"))
		assert.NotSame(t, l.getLimiter("a"), l.getLimiter("b"))
	})
}
