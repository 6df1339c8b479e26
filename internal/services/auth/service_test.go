package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/repository/memory"
	"github.com/stackpanel/stackpanel/internal/repository/redis"
	"github.com/stackpanel/stackpanel/internal/services/inventory"
)

type fakeLimiter struct {
	allowed bool
	keys    []string
}

func (l *fakeLimiter) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (*redis.RateLimitResult, error) {
	l.keys = append(l.keys, key)
	return &redis.RateLimitResult{Allowed: l.allowed, ResetAt: time.Now().Add(window)}, nil
}

type authFixture struct {
	svc     *Service
	users   *inventory.Service[domain.User, *domain.User]
	history *inventory.Service[domain.LoginHistory, *domain.LoginHistory]
	tracks  *inventory.Service[domain.LoginSecurityTrack, *domain.LoginSecurityTrack]
	limiter *fakeLimiter
	clock   time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	logger := zap.NewNop()
	f := &authFixture{
		users:   inventory.NewService[domain.User](memory.NewStore[domain.User](), nil, logger),
		history: inventory.NewService[domain.LoginHistory](memory.NewStore[domain.LoginHistory](), nil, logger),
		tracks:  inventory.NewService[domain.LoginSecurityTrack](memory.NewStore[domain.LoginSecurityTrack](), nil, logger),
		limiter: &fakeLimiter{allowed: true},
		clock:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := testAuthConfig("test-secret-key-at-least-32-bytes-long")
	cfg.LoginRateLimit = 20
	f.svc = NewService(f.users, f.history, f.tracks, f.limiter, NewJWTManager(cfg), cfg, logger)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *authFixture) addUser(t *testing.T, username, password string) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, Email: username + "@example.com", State: "enabled"}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		require.NoError(t, err)
		u.PasswordHash = string(hash)
	}
	created, err := f.users.Create(context.Background(), u)
	require.NoError(t, err)
	return created
}

func (f *authFixture) login(username, password string) (*LoginResponse, error) {
	return f.svc.Login(context.Background(), &LoginRequest{
		Username:   username,
		Password:   password,
		RemoteAddr: "10.0.0.1",
		UserAgent:  "test",
	})
}

func (f *authFixture) historyFor(t *testing.T, username string) []*domain.LoginHistory {
	t.Helper()
	items, _, err := f.history.List(context.Background(), domain.ListFilter{Search: username}, domain.Page{})
	require.NoError(t, err)
	return items
}

func TestService_Login_Success(t *testing.T) {
	f := newAuthFixture(t)
	alice := f.addUser(t, "alice", "correct horse")

	resp, err := f.login("alice", "correct horse")
	require.NoError(t, err)
	require.NotNil(t, resp.Tokens)

	redacted, ok := resp.User.(*domain.User)
	require.True(t, ok)
	assert.Empty(t, redacted.PasswordHash)
	require.NotNil(t, redacted.LastLoginAt)
	assert.True(t, redacted.LastLoginAt.Equal(f.clock))

	stored, err := f.users.Get(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, stored.UpdatedBy)
	assert.NotEmpty(t, stored.PasswordHash)

	claims, err := f.svc.ValidateToken(context.Background(), resp.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.UserID)

	history := f.historyFor(t, "alice")
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, alice.ID, history[0].UserID)
	assert.Equal(t, "10.0.0.1", history[0].RemoteAddr)

	assert.Equal(t, []string{"ratelimit:login:10.0.0.1"}, f.limiter.keys)
}

func TestService_Login_BadPasswordLocksAccount(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "bob", "right password")

	_, err := f.login("bob", "wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.login("bob", "wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	track, err := f.tracks.GetByKey(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), track.FailedAttempts)
	assert.Nil(t, track.LockedUntil)

	_, err = f.login("bob", "wrong")
	assert.ErrorIs(t, err, domain.ErrAccountLocked)

	track, err = f.tracks.GetByKey(context.Background(), "bob")
	require.NoError(t, err)
	require.NotNil(t, track.LockedUntil)
	assert.True(t, track.LockedUntil.Equal(f.clock.Add(10*time.Minute)))
	assert.Zero(t, track.FailedAttempts)

	// the right password does not get past the lock
	_, err = f.login("bob", "right password")
	assert.ErrorIs(t, err, domain.ErrAccountLocked)

	history := f.historyFor(t, "bob")
	require.Len(t, history, 4)
	assert.Equal(t, ReasonLocked, history[3].Reason)
}

func TestService_Login_LockExpires(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "carol", "right password")

	for i := 0; i < 3; i++ {
		_, _ = f.login("carol", "wrong")
	}
	_, err := f.login("carol", "right password")
	require.ErrorIs(t, err, domain.ErrAccountLocked)

	f.clock = f.clock.Add(11 * time.Minute)

	_, err = f.login("carol", "right password")
	require.NoError(t, err)

	track, err := f.tracks.GetByKey(context.Background(), "carol")
	require.NoError(t, err)
	assert.Nil(t, track.LockedUntil)
	assert.Zero(t, track.FailedAttempts)
}

func TestService_Login_SuccessResetsCount(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "dave", "right password")

	_, _ = f.login("dave", "wrong")
	_, err := f.login("dave", "right password")
	require.NoError(t, err)

	track, err := f.tracks.GetByKey(context.Background(), "dave")
	require.NoError(t, err)
	assert.Zero(t, track.FailedAttempts)
}

func TestService_Login_UnknownUser(t *testing.T) {
	f := newAuthFixture(t)

	for i := 0; i < 5; i++ {
		_, err := f.login("nobody", "whatever")
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	}

	history := f.historyFor(t, "nobody")
	require.Len(t, history, 5)
	assert.Equal(t, ReasonUnknownUser, history[0].Reason)
	assert.Zero(t, history[0].UserID)

	// unknown names never get a lockout row
	_, err := f.tracks.GetByKey(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, total, err := f.tracks.List(context.Background(), domain.ListFilter{IncludeInactive: true}, domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestService_Login_InactiveUser(t *testing.T) {
	f := newAuthFixture(t)
	erin := f.addUser(t, "erin", "right password")
	_, err := f.users.Deactivate(context.Background(), erin.ID, erin.Version)
	require.NoError(t, err)

	_, err = f.login("erin", "right password")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Equal(t, ReasonInactive, f.historyFor(t, "erin")[0].Reason)
}

func TestService_Login_DisabledState(t *testing.T) {
	f := newAuthFixture(t)
	frank := f.addUser(t, "frank", "right password")
	frank.State = "DISABLED"
	_, err := f.users.Update(context.Background(), frank)
	require.NoError(t, err)

	_, err = f.login("frank", "right password")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestService_Login_NoLocalPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "grace", "")

	_, err := f.login("grace", "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Equal(t, ReasonNoPassword, f.historyFor(t, "grace")[0].Reason)
}

func TestService_Login_ExactUsernameMatch(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "admin2", "right password")

	_, err := f.login("admin", "right password")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestService_Login_RateLimited(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "heidi", "right password")
	f.limiter.allowed = false

	_, err := f.login("heidi", "right password")
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	history := f.historyFor(t, "heidi")
	require.Len(t, history, 1)
	assert.Equal(t, ReasonRateLimited, history[0].Reason)

	_, err = f.tracks.GetByKey(context.Background(), "heidi")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Refresh(t *testing.T) {
	f := newAuthFixture(t)
	ivan := f.addUser(t, "ivan", "right password")

	resp, err := f.login("ivan", "right password")
	require.NoError(t, err)

	tokens, err := f.svc.Refresh(context.Background(), resp.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)

	stored, err := f.users.Get(context.Background(), ivan.ID)
	require.NoError(t, err)
	_, err = f.users.Deactivate(context.Background(), stored.ID, stored.Version)
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), resp.Tokens.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestService_SetPassword(t *testing.T) {
	f := newAuthFixture(t)
	judy := f.addUser(t, "judy", "")
	ctx := context.Background()

	err := f.svc.SetPassword(ctx, judy.ID, "short")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, f.svc.SetPassword(ctx, judy.ID, "a much longer secret"))

	_, err = f.login("judy", "a much longer secret")
	require.NoError(t, err)

	err = f.svc.SetPassword(ctx, 999, "a much longer secret")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_EnsureAdmin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.EnsureAdmin(ctx, "admin", ""))
	_, total, err := f.users.List(ctx, domain.ListFilter{IncludeInactive: true}, domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)

	require.NoError(t, f.svc.EnsureAdmin(ctx, "admin", "bootstrap-secret"))
	require.NoError(t, f.svc.EnsureAdmin(ctx, "admin", "another-secret"))

	users, total, err := f.users.List(ctx, domain.ListFilter{IncludeInactive: true}, domain.Page{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.True(t, users[0].IsLocal())

	_, err = f.login("admin", "bootstrap-secret")
	require.NoError(t, err)
}
