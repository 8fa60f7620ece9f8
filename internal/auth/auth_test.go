package auth

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/booksapi/booksapi/internal/db"
	"github.com/booksapi/booksapi/internal/db/dbfake"
	"github.com/booksapi/booksapi/internal/logger"
	"github.com/booksapi/booksapi/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *Service
	users   *dbfake.Users
	codec   *Codec
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := dbfake.NewUsers()
	codec := newTestCodec(t)
	m := metrics.New()
	svc := NewService(users, NewPasswordHasher(4), codec, logger.New(io.Discard, logger.LevelError, ""), m)
	return &fixture{svc: svc, users: users, codec: codec, metrics: m}
}

func (f *fixture) register(t *testing.T, email, password string) *UserInfo {
	t.Helper()
	user, err := f.svc.Register(context.Background(), email, password)
	require.NoError(t, err)
	return user
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	user := f.register(t, "a@x.com", "pw123")
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "a@x.com", user.Email)
	assert.True(t, user.IsActive)
	assert.False(t, user.CreatedAt.IsZero())
	assert.Nil(t, f.users.StoredRefreshToken("a@x.com"))
	assert.Equal(t, uint64(1), f.metrics.AuthEvents("register_success"))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")

	_, err := f.svc.Register(context.Background(), "a@x.com", "other")
	assert.ErrorIs(t, err, db.ErrEmailExists)

	// Emails are compared exactly as stored.
	_, err = f.svc.Register(context.Background(), "A@x.com", "pw123")
	assert.NoError(t, err)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), "bad", "pw123")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.svc.Register(context.Background(), "a@x.com", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestLogin_StoresRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")

	session, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.Equal(t, f.codec.RefreshTTL(), session.RefreshMaxAge)

	stored := f.users.StoredRefreshToken("a@x.com")
	require.NotNil(t, stored)
	assert.Equal(t, session.RefreshToken, *stored)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")

	_, err := f.svc.Login(context.Background(), "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), "nobody@x.com", "pw123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.Equal(t, uint64(2), f.metrics.AuthEvents("login_failure"))
}

func TestLogin_SecondLoginInvalidatesFirst(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")

	first, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
	require.NoError(t, err)
	second, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Logout(context.Background(), first.RefreshToken), ErrInvalidToken)
	assert.Equal(t, second.RefreshToken, *f.users.StoredRefreshToken("a@x.com"))

	require.NoError(t, f.svc.Logout(context.Background(), second.RefreshToken))
	assert.Nil(t, f.users.StoredRefreshToken("a@x.com"))
}

func TestLogout_MismatchLeavesStoredToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")

	session, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
	require.NoError(t, err)

	// Validly signed, but not the stored one.
	forged, err := f.codec.RefreshToken("a@x.com")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Logout(context.Background(), forged), ErrInvalidToken)
	assert.ErrorIs(t, f.svc.Logout(context.Background(), "garbage"), ErrInvalidToken)
	assert.ErrorIs(t, f.svc.Logout(context.Background(), ""), ErrMissingRefreshToken)

	assert.Equal(t, session.RefreshToken, *f.users.StoredRefreshToken("a@x.com"))
	assert.Equal(t, uint64(3), f.metrics.AuthEvents("logout_rejected"))
}

func TestLogout_UnknownSubject(t *testing.T) {
	f := newFixture(t)

	token, err := f.codec.RefreshToken("ghost@x.com")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Logout(context.Background(), token), ErrInvalidToken)
}

func TestRefresh_RotatesToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")

	session, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(context.Background(), session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, rotated.RefreshToken, *f.users.StoredRefreshToken("a@x.com"))

	_, err = f.svc.Refresh(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, rotated.RefreshToken, *f.users.StoredRefreshToken("a@x.com"))
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")

	session, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
	require.NoError(t, err)

	user, err := f.svc.CurrentUser(context.Background(), session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)

	f.users.SetActive("a@x.com", false)
	_, err = f.svc.CurrentUser(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := f.codec.Encode("a@x.com", 0)
	require.NoError(t, err)
	_, err = f.svc.CurrentUser(context.Background(), expired)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRegister_StoreFailureIsNotMasked(t *testing.T) {
	f := newFixture(t)
	down := errors.New("connection refused")
	f.users.Err = down

	_, err := f.svc.Register(context.Background(), "a@x.com", "pw123")
	assert.ErrorIs(t, err, down)
}

func TestDirectoryRollsBackFailedTransaction(t *testing.T) {
	users := dbfake.NewUsers()
	boom := errors.New("boom")

	err := users.WithTx(context.Background(), func(ctx context.Context, tx db.UserDirectory) error {
		if _, err := tx.Insert(ctx, &db.User{Email: "a@x.com", PasswordHash: "h", IsActive: true}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = users.FindByEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, db.ErrUserNotFound)
}

func TestCurrentUser_RejectsRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")

	session, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
	require.NoError(t, err)

	_, err = f.svc.CurrentUser(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, ErrWrongTokenType)
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, f.svc.Logout(context.Background(), session.RefreshToken))
	_, err = f.svc.CurrentUser(context.Background(), session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutAndRefresh_RejectAccessToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")

	session, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Logout(context.Background(), session.AccessToken), ErrWrongTokenType)
	_, err = f.svc.Refresh(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, ErrWrongTokenType)

	assert.Equal(t, session.RefreshToken, *f.users.StoredRefreshToken("a@x.com"))
}

func TestLogin_InactiveUser(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "pw123")
	f.users.SetActive("a@x.com", false)

	_, err := f.svc.Login(context.Background(), "a@x.com", "pw123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Nil(t, f.users.StoredRefreshToken("a@x.com"))
	assert.Equal(t, uint64(1), f.metrics.AuthEvents("login_failure"))
}
