package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/booksapi/booksapi/internal/db"
	apperrors "github.com/booksapi/booksapi/internal/errors"
)

type contextKey string

const userContextKey contextKey = "user"

// Middleware rejects requests without a valid bearer access token and puts
// the resolved user in the request context.
func Middleware(authService *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			token := bearerToken(r)
			if token == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("Not authenticated"))
				return
			}

			user, err := authService.CurrentUser(r.Context(), token)
			if err != nil {
				apperrors.WriteError(w, requestID, mapError(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// bearerToken reads the Authorization header. Websocket upgrades may pass
// the token as ?token= instead since browsers cannot set headers on them.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}

	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}

func WithUser(ctx context.Context, user *db.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func UserFromContext(ctx context.Context) *db.User {
	user, ok := ctx.Value(userContextKey).(*db.User)
	if !ok {
		return nil
	}
	return user
}
