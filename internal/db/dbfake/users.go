// Package dbfake provides in-memory stand-ins for the PostgreSQL repositories.
// They honour the same contracts, including transaction rollback, and are
// meant for service and handler tests.
package dbfake

import (
	"context"
	"sync"
	"time"

	"github.com/booksapi/booksapi/internal/db"
)

type Users struct {
	txMu sync.Mutex
	mu   sync.Mutex

	byEmail map[string]db.User
	nextID  int64

	// Err, when set, is returned by every operation.
	Err error
}

var _ db.UserDirectory = (*Users)(nil)

func NewUsers() *Users {
	return &Users{byEmail: make(map[string]db.User), nextID: 1}
}

// WithTx serialises transactions and restores the prior state when fn fails.
func (u *Users) WithTx(ctx context.Context, fn func(ctx context.Context, users db.UserDirectory) error) error {
	if u.Err != nil {
		return u.Err
	}

	u.txMu.Lock()
	defer u.txMu.Unlock()

	snapshot, nextID := u.snapshot()

	committed := false
	defer func() {
		if !committed {
			u.restore(snapshot, nextID)
		}
	}()

	if err := fn(ctx, txUsers{u}); err != nil {
		return err
	}
	committed = true
	return nil
}

type txUsers struct {
	*Users
}

func (t txUsers) WithTx(ctx context.Context, fn func(ctx context.Context, users db.UserDirectory) error) error {
	return fn(ctx, t)
}

func (u *Users) snapshot() (map[string]db.User, int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	copied := make(map[string]db.User, len(u.byEmail))
	for k, v := range u.byEmail {
		copied[k] = v
	}
	return copied, u.nextID
}

func (u *Users) restore(rows map[string]db.User, nextID int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.byEmail = rows
	u.nextID = nextID
}

func (u *Users) FindByEmail(ctx context.Context, email string) (*db.User, error) {
	if u.Err != nil {
		return nil, u.Err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	user, ok := u.byEmail[email]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	return &user, nil
}

func (u *Users) Insert(ctx context.Context, user *db.User) (*db.User, error) {
	if u.Err != nil {
		return nil, u.Err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.byEmail[user.Email]; ok {
		return nil, db.ErrEmailExists
	}

	created := *user
	created.ID = u.nextID
	created.CreatedAt = time.Now().UTC()
	created.RefreshToken = nil
	u.nextID++
	u.byEmail[created.Email] = created

	return &created, nil
}

func (u *Users) SetRefreshToken(ctx context.Context, userID int64, token *string) error {
	if u.Err != nil {
		return u.Err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	for email, user := range u.byEmail {
		if user.ID == userID {
			user.RefreshToken = copyString(token)
			u.byEmail[email] = user
			return nil
		}
	}
	return db.ErrUserNotFound
}

func (u *Users) SwapRefreshToken(ctx context.Context, userID int64, expected string, next *string) (bool, error) {
	if u.Err != nil {
		return false, u.Err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	for email, user := range u.byEmail {
		if user.ID != userID {
			continue
		}
		if user.RefreshToken == nil || *user.RefreshToken != expected {
			return false, nil
		}
		user.RefreshToken = copyString(next)
		u.byEmail[email] = user
		return true, nil
	}
	return false, nil
}

// StoredRefreshToken returns the refresh token currently stored for email.
func (u *Users) StoredRefreshToken(email string) *string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.byEmail[email]; ok {
		return copyString(user.RefreshToken)
	}
	return nil
}

// SetActive flips the active flag of an existing user.
func (u *Users) SetActive(email string, active bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.byEmail[email]; ok {
		user.IsActive = active
		u.byEmail[email] = user
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
