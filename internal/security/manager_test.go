package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscope-systems/vulnscope-core/internal/audit"
	"github.com/vulnscope-systems/vulnscope-core/internal/auth"
	"github.com/vulnscope-systems/vulnscope-core/internal/authz"
	"github.com/vulnscope-systems/vulnscope-core/internal/config"
	"github.com/vulnscope-systems/vulnscope-core/internal/events"
)

const testPassword = "a-long-enough-password"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Type = "memory"
	cfg.Audit.Directory = t.TempDir()
	cfg.Sandbox.WorkDir = t.TempDir()
	cfg.Security.TokenSecret = "test-signing-secret"
	return cfg
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(context.Background(), testConfig(t), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNew_WiresAllComponents(t *testing.T) {
	m := newTestManager(t)

	assert.NotNil(t, m.Crypto)
	assert.NotNil(t, m.Audit)
	assert.NotNil(t, m.Auth)
	assert.NotNil(t, m.Authz)
	assert.NotNil(t, m.Compliance)
	assert.NotNil(t, m.Sandbox)
}

func TestVerifyBaseline_ReportsWeaknesses(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.PasswordMinLength = 6
	cfg.Security.TokenSecret = "change-this-in-production"
	m, err := New(context.Background(), cfg, nil, nil)
	require.NoError(t, err)

	warnings := m.VerifyBaseline(context.Background())
	joined := ""
	for _, w := range warnings {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "password minimum length")
	assert.Contains(t, joined, "shipped default")
	assert.Contains(t, joined, "multi-factor")
	assert.Contains(t, joined, "administrator principal")
}

func TestEnsureAdmin(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.EnsureAdmin(ctx, testPassword)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.EnsureAdmin(ctx, testPassword)
	require.NoError(t, err)
	assert.False(t, created)

	warnings := m.VerifyBaseline(ctx)
	for _, w := range warnings {
		assert.NotContains(t, w, "administrator principal")
	}
}

func TestLoginLogout(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Auth.CreateUser(ctx, "alice", testPassword, []string{"user"})
	require.NoError(t, err)

	sc, token, err := m.Login(ctx, "alice", testPassword, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "alice", sc.Username)
	assert.Equal(t, "10.0.0.1", sc.Source)
	assert.NotEmpty(t, sc.TokenID)

	got, err := m.Session(sc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sc, got)

	require.NoError(t, m.Logout(ctx, sc.SessionID))
	_, err = m.Session(sc.SessionID)
	assert.ErrorIs(t, err, ErrUnknownSession)

	// Logout revoked the session's token.
	_, err = m.TokenLogin(ctx, token, "10.0.0.1")
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)

	assert.ErrorIs(t, m.Logout(ctx, sc.SessionID), ErrUnknownSession)
}

func TestLogin_BadPassword(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Auth.CreateUser(ctx, "alice", testPassword, []string{"user"})
	require.NoError(t, err)

	_, _, err = m.Login(ctx, "alice", "wrong-password-guess", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestTokenLogin(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Auth.CreateUser(ctx, "alice", testPassword, []string{"user", "read_only"})
	require.NoError(t, err)

	_, token, err := m.Login(ctx, "alice", testPassword, "")
	require.NoError(t, err)

	sc, err := m.TokenLogin(ctx, token, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, "alice", sc.Username)
	assert.ElementsMatch(t, []string{"user", "read_only"}, sc.Roles)
}

func TestEnforce_NoPrincipal(t *testing.T) {
	m := newTestManager(t)

	ran := false
	err := m.Enforce(context.Background(), authz.PermViewAuditLog, "query audit log", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNoPrincipal)
	assert.False(t, ran)
}

func TestEnforce_Denied(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Auth.CreateUser(ctx, "reader", testPassword, []string{"read_only"})
	require.NoError(t, err)
	sc, _, err := m.Login(ctx, "reader", testPassword, "")
	require.NoError(t, err)

	ran := false
	err = m.Enforce(sc.Bind(ctx), authz.PermManageUsers, "delete user", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, ran)
}

func TestEnforce_AllowedAndAudited(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Auth.CreateUser(ctx, "root", testPassword, []string{"administrator"})
	require.NoError(t, err)
	sc, _, err := m.Login(ctx, "root", testPassword, "")
	require.NoError(t, err)

	ran := false
	err = m.Enforce(sc.Bind(ctx), authz.PermManageUsers, "create user", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	ops, err := m.Audit.Query(ctx, audit.Filter{Type: audit.EventOperation})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.True(t, ops[0].Success)
	assert.Equal(t, "create user", ops[0].Details["operation"])
}

func TestEnforce_OperationFailureAudited(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Auth.CreateUser(ctx, "root", testPassword, []string{"administrator"})
	require.NoError(t, err)
	sc, _, err := m.Login(ctx, "root", testPassword, "")
	require.NoError(t, err)

	boom := errors.New("scanner crashed")
	err = m.Enforce(sc.Bind(ctx), authz.PermRunAssessment, "run assessment", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ops, err := m.Audit.Query(ctx, audit.Filter{Type: audit.EventOperation})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.False(t, ops[0].Success)
	assert.Equal(t, "scanner crashed", ops[0].Details["error"])
}

func TestConfigChangeTriggersBaselineRecheck(t *testing.T) {
	bus := events.NewInMemoryBus(nil)
	cfg := testConfig(t)
	m, err := New(context.Background(), cfg, bus, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	// The in-memory bus delivers synchronously, so a publish returning
	// means the recheck ran.
	require.NoError(t, bus.Publish(context.Background(), events.SubjectConfigChanged, []byte("{}")))

	require.NoError(t, m.Close())
	require.NoError(t, bus.Publish(context.Background(), events.SubjectConfigChanged, nil))
}

func TestComplianceStateReflectsLiveSystem(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	state := m.complianceState()
	assert.False(t, state.AdminPresent)

	_, err := m.EnsureAdmin(ctx, testPassword)
	require.NoError(t, err)
	state = m.complianceState()
	assert.True(t, state.AdminPresent)
	assert.Equal(t, 12, state.PasswordMinLength)
	assert.False(t, state.SandboxNetworkAccess)
}

func TestSecurityContext_HasRoleAndBind(t *testing.T) {
	sc := &SecurityContext{
		SessionID: "s-1",
		Username:  "alice",
		Roles:     []string{"user"},
		CreatedAt: time.Now(),
	}
	assert.True(t, sc.HasRole("user"))
	assert.False(t, sc.HasRole("administrator"))

	ctx := sc.Bind(context.Background())
	assert.Equal(t, sc, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
