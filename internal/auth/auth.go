package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/booksapi/booksapi/internal/db"
	"github.com/booksapi/booksapi/internal/logger"
	"github.com/booksapi/booksapi/internal/metrics"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrMissingRefreshToken = errors.New("refresh token missing")
)

// UserInfo is the public view of a user record.
type UserInfo struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func NewUserInfo(u *db.User) *UserInfo {
	return &UserInfo{
		ID:        u.ID,
		Email:     u.Email,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

// Session is the result of a successful login or rotation. RefreshToken is
// delivered to the client as a cookie, never in the response body.
type Session struct {
	AccessToken   string
	RefreshToken  string
	RefreshMaxAge time.Duration
}

type Service struct {
	users   db.UserDirectory
	hasher  *PasswordHasher
	codec   *Codec
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewService(users db.UserDirectory, hasher *PasswordHasher, codec *Codec, log *logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.Default()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Service{
		users:   users,
		hasher:  hasher,
		codec:   codec,
		log:     log.WithComponent("auth"),
		metrics: m,
	}
}

func (s *Service) Register(ctx context.Context, email, password string) (*UserInfo, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	var created *db.User
	err = s.users.WithTx(ctx, func(ctx context.Context, users db.UserDirectory) error {
		_, err := users.FindByEmail(ctx, email)
		switch {
		case err == nil:
			return db.ErrEmailExists
		case !errors.Is(err, db.ErrUserNotFound):
			return err
		}

		created, err = users.Insert(ctx, &db.User{
			Email:        email,
			PasswordHash: digest,
			IsActive:     true,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, db.ErrEmailExists) {
			s.metrics.IncAuthEvent("register_conflict")
			s.log.Info(ctx, "registration rejected: email exists")
		}
		return nil, err
	}

	s.metrics.IncAuthEvent("register_success")
	s.log.Info(ctx, "user registered", map[string]interface{}{"user_id": created.ID})

	return NewUserInfo(created), nil
}

// Login checks credentials and starts a new session. Inactive users are
// refused like a wrong password. Any previously issued refresh token for the
// user stops working.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.FindByEmail(ctx, username)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			s.metrics.IncAuthEvent("login_failure")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.IncAuthEvent("login_failure")
		s.log.Info(ctx, "login rejected: bad password", map[string]interface{}{"user_id": user.ID})
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.metrics.IncAuthEvent("login_failure")
		s.log.Info(ctx, "login rejected: inactive user", map[string]interface{}{"user_id": user.ID})
		return nil, ErrInvalidCredentials
	}

	session, err := s.newSession(user.Email)
	if err != nil {
		return nil, err
	}

	err = s.users.WithTx(ctx, func(ctx context.Context, users db.UserDirectory) error {
		return users.SetRefreshToken(ctx, user.ID, &session.RefreshToken)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncAuthEvent("login_success")
	s.log.Info(ctx, "user logged in", map[string]interface{}{"user_id": user.ID})

	return session, nil
}

// Logout invalidates refreshToken if it is the one currently stored for its
// subject.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	err := s.users.WithTx(ctx, func(ctx context.Context, users db.UserDirectory) error {
		user, err := s.holderOf(ctx, users, refreshToken)
		if err != nil {
			return err
		}

		ok, err := users.SwapRefreshToken(ctx, user.ID, refreshToken, nil)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidToken
		}
		return nil
	})
	if err != nil {
		s.recordRejection(ctx, "logout", err)
		return err
	}

	s.metrics.IncAuthEvent("logout_success")
	s.log.Info(ctx, "user logged out")
	return nil
}

// Refresh exchanges a valid refresh token for a new token pair. The presented
// token is replaced and cannot be used again.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var session *Session
	err := s.users.WithTx(ctx, func(ctx context.Context, users db.UserDirectory) error {
		user, err := s.holderOf(ctx, users, refreshToken)
		if err != nil {
			return err
		}

		next, err := s.newSession(user.Email)
		if err != nil {
			return err
		}

		ok, err := users.SwapRefreshToken(ctx, user.ID, refreshToken, &next.RefreshToken)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidToken
		}
		session = next
		return nil
	})
	if err != nil {
		s.recordRejection(ctx, "refresh", err)
		return nil, err
	}

	s.metrics.IncAuthEvent("refresh_success")
	return session, nil
}

// CurrentUser resolves a bearer access token to an active user.
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*db.User, error) {
	data, err := s.codec.DecodeAccess(accessToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, data.Email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidToken
	}

	return user, nil
}

// holderOf returns the user whose stored refresh token is exactly token.
func (s *Service) holderOf(ctx context.Context, users db.UserDirectory, token string) (*db.User, error) {
	if token == "" {
		return nil, ErrMissingRefreshToken
	}

	data, err := s.codec.DecodeRefresh(token)
	if err != nil {
		return nil, err
	}

	user, err := users.FindByEmail(ctx, data.Email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if user.RefreshToken == nil || *user.RefreshToken != token {
		return nil, ErrInvalidToken
	}

	return user, nil
}

func (s *Service) newSession(subject string) (*Session, error) {
	access, err := s.codec.AccessToken(subject)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.codec.RefreshToken(subject)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &Session{
		AccessToken:   access,
		RefreshToken:  refresh,
		RefreshMaxAge: s.codec.RefreshTTL(),
	}, nil
}

func (s *Service) recordRejection(ctx context.Context, op string, err error) {
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrMissingRefreshToken) {
		s.metrics.IncAuthEvent(op + "_rejected")
		s.log.Info(ctx, op+" rejected", map[string]interface{}{"reason": err.Error()})
	}
}
