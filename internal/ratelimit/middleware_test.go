package ratelimit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/booksapi/booksapi/internal/errors"
	"github.com/booksapi/booksapi/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLog = logger.New(io.Discard, logger.LevelError, "")

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func loginRequest(remote string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	r.RemoteAddr = remote
	return r
}

func TestMiddleware_SixthRequestIsLimited(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestMemoryLimiter(t, clock)
	handler := Middleware(limiter, Rule{Name: "login", Requests: 5, Window: time.Minute}, quietLog)(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("10.0.0.1:5000"))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("10.0.0.1:5001"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, w.Body.String(), apperrors.CodeRateLimited)

	// Another address is unaffected.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("10.0.0.2:5000"))
	assert.Equal(t, http.StatusOK, w.Code)

	clock.Advance(time.Minute)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, loginRequest("10.0.0.1:5000"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_RulesAreIndependent(t *testing.T) {
	limiter := newTestMemoryLimiter(t, newFakeClock())
	login := Middleware(limiter, Rule{Name: "login", Requests: 1, Window: time.Minute}, quietLog)(okHandler())
	register := Middleware(limiter, Rule{Name: "register", Requests: 1, Window: time.Minute}, quietLog)(okHandler())

	w := httptest.NewRecorder()
	login.ServeHTTP(w, loginRequest("10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	register.ServeHTTP(w, loginRequest("10.0.0.1:1"))
	assert.Equal(t, http.StatusOK, w.Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestMiddleware_FailsOpen(t *testing.T) {
	handler := Middleware(brokenLimiter{}, Rule{Name: "login", Requests: 1, Window: time.Minute}, quietLog)(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, loginRequest("10.0.0.1:1"))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:4321"
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	r.Header.Set("X-Real-IP", "198.51.100.7")

	assert.Equal(t, "192.0.2.10", ClientIP(r, false))
	assert.Equal(t, "203.0.113.5", ClientIP(r, true))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "198.51.100.7", ClientIP(r, true))

	r.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "not-a-hostport", ClientIP(r, false))
}
