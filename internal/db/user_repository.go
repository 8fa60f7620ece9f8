package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

var ErrUserNotFound = errors.New("user not found")
var ErrEmailExists = errors.New("email already exists")

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	IsActive     bool
	RefreshToken *string
}

// UserDirectory is the persistent store of user records used by the auth
// service. Mutations that must succeed or fail together run inside WithTx.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	Insert(ctx context.Context, user *User) (*User, error)
	// SetRefreshToken overwrites the stored refresh token; nil clears it.
	SetRefreshToken(ctx context.Context, userID int64, token *string) error
	// SwapRefreshToken replaces the stored token with next only if it still
	// equals expected. It reports whether the swap happened.
	SwapRefreshToken(ctx context.Context, userID int64, expected string, next *string) (bool, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, users UserDirectory) error) error
}

var _ UserDirectory = (*UserRepository)(nil)

type UserRepository struct {
	conn *sql.DB // nil when bound to a transaction
	q    DBTX
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{conn: db.DB, q: db.DB}
}

func (r *UserRepository) WithTx(ctx context.Context, fn func(ctx context.Context, users UserDirectory) error) error {
	if r.conn == nil {
		return fn(ctx, r)
	}
	return WithTx(ctx, r.conn, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, &UserRepository{q: tx})
	})
}

func (r *UserRepository) Insert(ctx context.Context, user *User) (*User, error) {
	query := `
		INSERT INTO users (email, hashed_password, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	created := *user
	err := r.q.QueryRowContext(ctx, query, user.Email, user.PasswordHash, user.IsActive).Scan(
		&created.ID, &created.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		return nil, err
	}

	return &created, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, hashed_password, created_at, is_active, refresh_token
		FROM users
		WHERE email = $1
	`

	user := &User{}
	var refreshToken sql.NullString
	err := r.q.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.IsActive, &refreshToken,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if refreshToken.Valid {
		user.RefreshToken = &refreshToken.String
	}

	return user, nil
}

func (r *UserRepository) SetRefreshToken(ctx context.Context, userID int64, token *string) error {
	query := `UPDATE users SET refresh_token = $1 WHERE id = $2`

	result, err := r.q.ExecContext(ctx, query, nullString(token), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *UserRepository) SwapRefreshToken(ctx context.Context, userID int64, expected string, next *string) (bool, error) {
	query := `
		UPDATE users
		SET refresh_token = $1
		WHERE id = $2 AND refresh_token = $3
	`

	result, err := r.q.ExecContext(ctx, query, nullString(next), userID, expected)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
