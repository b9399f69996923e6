package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLocalLimiterStore(t *testing.T) {
	store := NewLocalLimiterStore(1, 2)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	// Burst of 2 passes, the third is throttled.
	for i := 0; i < 2; i++ {
		allowed, err := store.Allow(req, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d inside burst", i)
	}
	allowed, err := store.Allow(req, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)

	// A different key has its own bucket.
	allowed, err = store.Allow(req, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(NewLocalLimiterStore(1, 1), nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(*http.Request, string) (bool, error) {
	return false, errors.New("backend down")
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	handler := RateLimitMiddleware(failingLimiter{}, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "limiter backend failures must not block serving")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
