package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError_AppError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, "req-1", InvalidToken("Could not validate credentials"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, CodeInvalidToken, resp.Error.Code)
	assert.Equal(t, "Could not validate credentials", resp.Error.Message)
	assert.Equal(t, "req-1", resp.Error.RequestID)
}

func TestWriteError_UnknownErrorIsInternal(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, "", stderrors.New("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, CodeInternalError, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "connection reset")
}

func TestAsAppError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", BookNotFound())

	appErr := AsAppError(wrapped)

	assert.Equal(t, CodeBookNotFound, appErr.Code)
	assert.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		status int
	}{
		{"validation", ValidationError("bad"), http.StatusBadRequest},
		{"email exists", EmailExists(), http.StatusBadRequest},
		{"invalid credentials", InvalidCredentials(), http.StatusUnauthorized},
		{"unauthorized", Unauthorized("no"), http.StatusUnauthorized},
		{"page not found", PageNotFound(3, 2), http.StatusNotFound},
		{"rate limited", RateLimited(), http.StatusTooManyRequests},
		{"internal", InternalError("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}

	assert.Equal(t, "Page 3 does not exist. Total pages: 2", PageNotFound(3, 2).Message)
	assert.True(t, IsClientError(RateLimited()))
	assert.True(t, IsServerError(stderrors.New("x")))
}

func TestHandleFunc_ObserversSeeError(t *testing.T) {
	var seen *AppError
	h := HandleFunc(func(w http.ResponseWriter, r *http.Request) error {
		return DatabaseError("db down")
	}, func(r *http.Request, err *AppError) { seen = err })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRequestID(req.Context(), "abc"))
	w := httptest.NewRecorder()
	h(w, req)

	require.NotNil(t, seen)
	assert.Equal(t, CodeDatabaseError, seen.Code)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

func TestRequestIDMiddleware(t *testing.T) {
	var got string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.NotEmpty(t, got)
	assert.Equal(t, got, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "upstream-id", got)
}
