package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/booksapi/booksapi/internal/errors"
	"github.com/booksapi/booksapi/internal/logger"
)

// Rule limits one route. Requests from the same client key share an allowance of
// Requests per Window.
type Rule struct {
	Name     string
	Requests int
	Window   time.Duration
	KeyFunc  KeyFunction
}

// KeyFunction derives the client identity from a request.
type KeyFunction func(r *http.Request) string

// KeyByIP keys on the client address. Proxy headers are only consulted when
// trustProxy is set, otherwise any client could pick its own key.
func KeyByIP(trustProxy bool) KeyFunction {
	return func(r *http.Request) string {
		return ClientIP(r, trustProxy)
	}
}

func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware rejects requests over the rule's allowance with 429 before they
// reach next. If the limiter itself fails the request is let through.
func Middleware(limiter Limiter, rule Rule, log *logger.Logger) func(http.Handler) http.Handler {
	if rule.KeyFunc == nil {
		rule.KeyFunc = KeyByIP(false)
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("ratelimit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := rule.KeyFunc(r)
			if client == "" {
				client = "unknown"
			}

			decision, err := limiter.Allow(r.Context(), rule.Name+":"+client, rule.Requests, rule.Window)
			if err != nil {
				log.Error(r.Context(), "rate limiter unavailable, allowing request", err,
					map[string]interface{}{"rule": rule.Name})
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Window", rule.Window.String())

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
				log.Warn(r.Context(), "rate limit exceeded", map[string]interface{}{
					"rule":   rule.Name,
					"client": client,
				})
				apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.RateLimited())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
