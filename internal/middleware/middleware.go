package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/booksapi/booksapi/internal/errors"
	"github.com/booksapi/booksapi/internal/logger"
)

// responseWriter records the status and size of a response.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

// Logging writes one access log line per request. Expects the request ID to
// already be in the context.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.written,
				"remote_addr": r.RemoteAddr,
			}

			switch {
			case wrapped.statusCode >= 500:
				log.Error(r.Context(), "request completed with server error", nil, fields)
			case wrapped.statusCode >= 400:
				log.Warn(r.Context(), "request completed with client error", fields)
			default:
				log.Info(r.Context(), "request completed", fields)
			}
		})
	}
}

// Chain wraps h so that the first middleware is the outermost.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// CORS allows the listed origins to call the API with credentials, which the
// refresh cookie needs. "*" reflects any origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if origin != "" && (o == "*" || o == origin) {
					allowed = true
					break
				}
			}

			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+apperrors.RequestIDHeader)
				h.Set("Access-Control-Expose-Headers", strings.Join([]string{
					apperrors.RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining",
				}, ", "))
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Recoverer turns a panic into a logged 500 with the standard error body.
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error(r.Context(), "panic recovered", nil, map[string]interface{}{
						"panic":  rec,
						"method": r.Method,
						"path":   r.URL.Path,
					})
					apperrors.WriteError(w, apperrors.GetRequestID(r.Context()),
						apperrors.InternalError("an unexpected error occurred"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
