package errors

import (
	"net/http"
)

const (
	// RequestIDHeader is the HTTP header for request ID
	RequestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware injects a request ID into the context and response headers
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = GenerateRequestID()
		}

		ctx := WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler wraps an http.HandlerFunc with error handling capabilities
type Handler func(w http.ResponseWriter, r *http.Request) error

// ErrorObserver is notified of every error a Handler returns, before the
// response is written. Used to log server-side causes.
type ErrorObserver func(r *http.Request, err *AppError)

// HandleFunc converts a Handler to a standard http.HandlerFunc with automatic error handling
func HandleFunc(h Handler, observers ...ErrorObserver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			appErr := AsAppError(err)
			for _, observe := range observers {
				observe(r, appErr)
			}
			WriteError(w, GetRequestID(r.Context()), appErr)
		}
	}
}
