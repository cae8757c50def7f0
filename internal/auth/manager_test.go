package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscope-systems/vulnscope-core/internal/audit"
)

const testPassword = "a-long-enough-password"

func newTestManager(t *testing.T, opts Options) (*Manager, *audit.Logger) {
	t.Helper()
	auditLog, err := audit.NewLogger(audit.Options{
		Enabled:   true,
		Directory: t.TempDir(),
	})
	require.NoError(t, err)

	if opts.TokenSecret == "" {
		opts.TokenSecret = "test-token-secret"
	}
	m := NewManager(NewInMemoryRepository(), auditLog, nil, opts)
	return m, auditLog
}

func mustCreateUser(t *testing.T, m *Manager, username string, roles ...string) *Credential {
	t.Helper()
	cred, err := m.CreateUser(context.Background(), username, testPassword, roles)
	require.NoError(t, err)
	return cred
}

func TestCreateUser_HashAndSaltWrittenTogether(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	cred := mustCreateUser(t, m, "alice", "user")

	assert.NotEmpty(t, cred.PasswordHash)
	assert.NotEmpty(t, cred.Salt)
	assert.NotContains(t, cred.PasswordHash, testPassword)
}

func TestCreateUser_Duplicate(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	mustCreateUser(t, m, "alice")

	_, err := m.CreateUser(context.Background(), "alice", testPassword, nil)
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestCreateUser_ShortPassword(t *testing.T) {
	m, _ := newTestManager(t, Options{PasswordMinLength: 12})
	_, err := m.CreateUser(context.Background(), "alice", "short", nil)
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestAuthenticate_Success(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	mustCreateUser(t, m, "alice", "user")

	cred, err := m.Authenticate(context.Background(), "alice", testPassword, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Username)
	assert.NotNil(t, cred.LastLogin)
	assert.Zero(t, cred.FailedAttempts)
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	m, auditLog := newTestManager(t, Options{})
	mustCreateUser(t, m, "alice")

	_, err := m.Authenticate(context.Background(), "alice", "wrong-password-123", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	events, err := auditLog.Query(context.Background(), audit.Filter{Type: audit.EventLoginFailed})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "wrong password", events[0].Details["reason"])
}

func TestAuthenticate_UnknownUserSameError(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	mustCreateUser(t, m, "alice")

	_, errUnknown := m.Authenticate(context.Background(), "nobody", testPassword, "")
	_, errWrong := m.Authenticate(context.Background(), "alice", "wrong-password-123", "")

	// The caller-visible error never reveals whether the username exists.
	assert.Equal(t, errWrong, errUnknown)
}

func TestAuthenticate_SuccessAfterFailuresResetsCounter(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxFailedAttempts: 5})
	mustCreateUser(t, m, "alice")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := m.Authenticate(ctx, "alice", "wrong-password-123", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	cred, err := m.Authenticate(ctx, "alice", testPassword, "")
	require.NoError(t, err)
	assert.Zero(t, cred.FailedAttempts)
	assert.Nil(t, cred.LockedUntil)
}

func TestAuthenticate_LockoutAfterMaxAttempts(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxFailedAttempts: 3, LockoutDuration: time.Hour})
	mustCreateUser(t, m, "alice")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Authenticate(ctx, "alice", "wrong-password-123", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	stored, err := m.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored.LockedUntil)
	assert.Equal(t, 3, stored.FailedAttempts)

	// Even the correct password is rejected while locked, and the
	// counter does not advance.
	_, err = m.Authenticate(ctx, "alice", testPassword, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	stored, err = m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.FailedAttempts)
}

func TestAuthenticate_LockoutExpiryResetsCounter(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxFailedAttempts: 3, LockoutDuration: 10 * time.Millisecond})
	mustCreateUser(t, m, "alice")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = m.Authenticate(ctx, "alice", "wrong-password-123", "")
	}
	time.Sleep(20 * time.Millisecond)

	// First attempt after expiry restarts the counter from zero.
	_, err := m.Authenticate(ctx, "alice", "wrong-password-123", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	stored, err := m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestAuthenticate_ConcurrentFailuresDoNotLoseUpdates(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxFailedAttempts: 100})
	mustCreateUser(t, m, "alice")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Authenticate(ctx, "alice", "wrong-password-123", "")
		}()
	}
	wg.Wait()

	stored, err := m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, stored.FailedAttempts)
}

func TestTokens_IssueValidateRevoke(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	mustCreateUser(t, m, "alice", "administrator")
	ctx := context.Background()

	token, jti, err := m.IssueToken(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := m.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []string{"administrator"}, claims.Roles)
	assert.Equal(t, jti, claims.ID)

	m.RevokeToken(ctx, claims.ID)
	_, err = m.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestTokens_UnknownIndexAcceptedWithWarning(t *testing.T) {
	m, _ := newTestManager(t, Options{TokenSecret: "shared-secret"})
	mustCreateUser(t, m, "alice", "user")
	ctx := context.Background()

	token, _, err := m.IssueToken(ctx, "alice")
	require.NoError(t, err)

	// A fresh manager simulates a restart: the index is empty, but a
	// cryptographically valid token is still accepted.
	restarted := NewManager(m.repo, m.auditLog, nil, Options{TokenSecret: "shared-secret"})
	claims, err := restarted.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
}

func TestAPIKeys(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	mustCreateUser(t, m, "alice", "user")
	ctx := context.Background()

	key, err := m.CreateAPIKey(ctx, "alice", "ci")
	require.NoError(t, err)
	require.NotEmpty(t, key)

	_, err = m.CreateAPIKey(ctx, "alice", "ci")
	assert.ErrorIs(t, err, ErrAPIKeyExists)

	cred, err := m.AuthenticateAPIKey(ctx, key, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.Username)

	// Only the hash is stored.
	stored, err := m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, key, stored.APIKeys["ci"])

	require.NoError(t, m.RevokeAPIKey(ctx, "alice", "ci"))
	_, err = m.AuthenticateAPIKey(ctx, key, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	mustCreateUser(t, m, "alice")
	ctx := context.Background()

	err := m.ChangePassword(ctx, "alice", "wrong-password-123", "another-long-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, m.ChangePassword(ctx, "alice", testPassword, "another-long-password"))

	_, err = m.Authenticate(ctx, "alice", testPassword, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Authenticate(ctx, "alice", "another-long-password", "")
	assert.NoError(t, err)
}

func TestResetPassword_ClearsLockout(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxFailedAttempts: 2, LockoutDuration: time.Hour})
	mustCreateUser(t, m, "alice")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = m.Authenticate(ctx, "alice", "wrong-password-123", "")
	}
	require.NoError(t, m.ResetPassword(ctx, "alice", "another-long-password"))

	cred, err := m.Authenticate(ctx, "alice", "another-long-password", "")
	require.NoError(t, err)
	assert.Zero(t, cred.FailedAttempts)
}

func TestRoles_AddRemove(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	mustCreateUser(t, m, "alice", "user")
	ctx := context.Background()

	require.NoError(t, m.AddRole(ctx, "alice", "read_only"))
	require.NoError(t, m.AddRole(ctx, "alice", "read_only")) // idempotent

	cred, err := m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user", "read_only"}, cred.Roles)

	require.NoError(t, m.RemoveRole(ctx, "alice", "user"))
	cred, err = m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"read_only"}, cred.Roles)
}

func TestDeleteUser(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	mustCreateUser(t, m, "alice")
	ctx := context.Background()

	require.NoError(t, m.DeleteUser(ctx, "alice"))
	_, err := m.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
