package api

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/booksapi/booksapi/internal/auth"
	"github.com/booksapi/booksapi/internal/config"
	"github.com/booksapi/booksapi/internal/db/dbfake"
	apperrors "github.com/booksapi/booksapi/internal/errors"
	"github.com/booksapi/booksapi/internal/feed"
	"github.com/booksapi/booksapi/internal/health"
	"github.com/booksapi/booksapi/internal/logger"
	"github.com/booksapi/booksapi/internal/metrics"
	"github.com/booksapi/booksapi/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router *Router
	hub    *feed.Hub
	books  *dbfake.Books
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		APIVersion:         "v1",
		CookieSecure:       true,
		RateLimitRequests:  5,
		RateLimitWindow:    time.Minute,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		FeedInterval:       time.Hour,
	}

	codec, err := auth.NewCodec(auth.TokenConfig{
		Secret:     "router-test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	require.NoError(t, err)

	log := logger.New(io.Discard, logger.LevelError, "")
	m := metrics.New()
	limiter := ratelimit.NewMemoryLimiter(time.Minute)
	t.Cleanup(func() { limiter.Close() })

	books := dbfake.NewBooks()
	hub := feed.NewHub()
	svc := auth.NewService(dbfake.NewUsers(), auth.NewPasswordHasher(4), codec, log, m)

	router := NewRouter(Deps{
		Config:  cfg,
		Auth:    svc,
		Books:   books,
		Limiter: limiter,
		Hub:     hub,
		Health:  health.NewChecker(&health.CheckerConfig{Version: "test"}),
		Metrics: m,
		Logger:  log,
	})
	return &testEnv{router: router, hub: hub, books: books}
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	w := e.do(httptest.NewRequest(http.MethodPost, "/v1/auth/register",
		strings.NewReader(`{"email":"a@x.com","password":"pw123"}`)))
	require.Equal(t, http.StatusCreated, w.Code)

	form := url.Values{"username": {"a@x.com"}, "password": {"pw123"}}
	r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = e.do(r)
	require.Equal(t, http.StatusOK, w.Code)

	var tokens auth.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	return tokens.AccessToken
}

func bearer(r *http.Request, token string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestRouter_BooksRequireAuth(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/v1/books/get_books", "/v1/books/get_book/1", "/v1/auth/me"} {
		w := e.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"), path)
		assert.NotEmpty(t, w.Header().Get(apperrors.RequestIDHeader), path)
	}
}

func TestRouter_RefreshTokenIsNotABearerToken(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	form := url.Values{"username": {"a@x.com"}, "password": {"pw123"}}
	r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := e.do(r)
	require.Equal(t, http.StatusOK, w.Code)

	var refresh string
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.RefreshCookieName {
			refresh = c.Value
		}
	}
	require.NotEmpty(t, refresh)

	w = e.do(bearer(httptest.NewRequest(http.MethodGet, "/v1/books/get_books", nil), refresh))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_BookLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	w := e.do(bearer(httptest.NewRequest(http.MethodPost, "/v1/books/create_book",
		strings.NewReader(`{"title":"Dune","author":"Frank Herbert","published_date":"1965-08-01"}`)), token))
	require.Equal(t, http.StatusOK, w.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, float64(1), created["id"])
	assert.Equal(t, "1965-08-01", created["published_date"])

	w = e.do(bearer(httptest.NewRequest(http.MethodPut, "/v1/books/update_book/1",
		strings.NewReader(`{"title":"","genre":"sci-fi"}`)), token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Dune"`)
	assert.Contains(t, w.Body.String(), `"genre":"sci-fi"`)

	w = e.do(bearer(httptest.NewRequest(http.MethodGet, "/v1/books/get_books?page=1&max_items=10", nil), token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_pages":1`)

	w = e.do(bearer(httptest.NewRequest(http.MethodGet, "/v1/books/get_books?page=2", nil), token))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Page 2 does not exist. Total pages: 1")

	w = e.do(bearer(httptest.NewRequest(http.MethodDelete, "/v1/books/delete_book/1", nil), token))
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(bearer(httptest.NewRequest(http.MethodGet, "/v1/books/get_book/1", nil), token))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeBookNotFound)
}

func TestRouter_BookReadsAreCacheable(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	w := e.do(bearer(httptest.NewRequest(http.MethodGet, "/v1/books/get_books", nil), token))
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	r := bearer(httptest.NewRequest(http.MethodGet, "/v1/books/get_books", nil), token)
	r.Header.Set("If-None-Match", etag)
	w = e.do(r)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestRouter_LoginIsRateLimited(t *testing.T) {
	e := newTestEnv(t)

	form := url.Values{"username": {"nobody@x.com"}, "password": {"wrong"}}.Encode()
	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(form))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		assert.Equal(t, http.StatusUnauthorized, e.do(r).Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(form))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := e.do(r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), apperrors.CodeRateLimited)

	// Limits are per route.
	w = e.do(httptest.NewRequest(http.MethodPost, "/v1/auth/register",
		strings.NewReader(`{"email":"b@x.com","password":"pw123"}`)))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	e := newTestEnv(t)

	r := httptest.NewRequest(http.MethodOptions, "/v1/auth/login", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := e.do(r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// No database is configured, so readiness fails.
	w = e.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `books_http_requests_total{endpoint="/health/live",method="GET"} 1`)
}

func TestRouter_UpdateFeed(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)
	t.Cleanup(e.hub.CloseAll)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/books/updates", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(bearer(req, token))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: message_no: 1 ,total_count = 0\n", line)
}
