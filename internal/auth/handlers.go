package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/booksapi/booksapi/internal/db"
	apperrors "github.com/booksapi/booksapi/internal/errors"
)

const RefreshCookieName = "refresh_token"

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type Handlers struct {
	authService  *Service
	cookieSecure bool
}

func NewHandlers(authService *Service, cookieSecure bool) *Handlers {
	return &Handlers{authService: authService, cookieSecure: cookieSecure}
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	user, err := h.authService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		return mapError(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, user)
	return nil
}

// Login accepts an OAuth2 password form (username, password).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return apperrors.BadRequest("invalid form body")
	}

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		return apperrors.ValidationError("username and password are required")
	}

	session, err := h.authService.Login(r.Context(), username, password)
	if err != nil {
		return mapError(err)
	}

	h.writeSession(w, r, session)
	return nil
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	if err := h.authService.Logout(r.Context(), refreshCookie(r)); err != nil {
		return mapError(err)
	}

	h.clearRefreshCookie(w)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK,
		MessageResponse{Message: "Successfully logged out."})
	return nil
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) error {
	session, err := h.authService.Refresh(r.Context(), refreshCookie(r))
	if err != nil {
		return mapError(err)
	}

	h.writeSession(w, r, session)
	return nil
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	user := UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("Not authenticated")
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, NewUserInfo(user))
	return nil
}

func (h *Handlers) writeSession(w http.ResponseWriter, r *http.Request, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    session.RefreshToken,
		Path:     "/",
		MaxAge:   int(session.RefreshMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, TokenResponse{
		AccessToken: session.AccessToken,
		TokenType:   "bearer",
	})
}

func (h *Handlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func refreshCookie(r *http.Request) string {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// mapError translates service errors into API errors. Anything unrecognised
// becomes a 500 with the cause attached for the server log.
func mapError(err error) error {
	switch {
	case IsValidationError(err):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, db.ErrEmailExists):
		return apperrors.EmailExists()
	case errors.Is(err, ErrInvalidCredentials):
		return apperrors.InvalidCredentials()
	case errors.Is(err, ErrMissingRefreshToken):
		return apperrors.Unauthorized("Refresh token missing")
	case errors.Is(err, ErrInvalidToken):
		return apperrors.InvalidToken("Invalid or expired token")
	default:
		return apperrors.InternalError("an unexpected error occurred").WithCause(err)
	}
}
