package seeder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscope-systems/vulnscope-core/internal/audit"
	"github.com/vulnscope-systems/vulnscope-core/internal/auth"
)

func TestRun(t *testing.T) {
	auditLog, err := audit.NewLogger(audit.Options{Enabled: true, Directory: t.TempDir()})
	require.NoError(t, err)
	mgr := auth.NewManager(auth.NewInMemoryRepository(), auditLog, nil, auth.Options{})
	ctx := context.Background()

	seeded, err := Run(ctx, mgr, Options{Users: 5, Seed: 42})
	require.NoError(t, err)
	require.Len(t, seeded, 5)

	for _, u := range seeded {
		cred, err := mgr.Authenticate(ctx, u.Username, u.Password, "seeder-test")
		require.NoError(t, err, "seeded user %s must authenticate", u.Username)
		assert.Equal(t, u.Roles, cred.Roles)
	}
}

func TestRun_FixedSeedIsReproducible(t *testing.T) {
	newMgr := func() *auth.Manager {
		auditLog, err := audit.NewLogger(audit.Options{Enabled: false})
		require.NoError(t, err)
		return auth.NewManager(auth.NewInMemoryRepository(), auditLog, nil, auth.Options{})
	}
	ctx := context.Background()

	first, err := Run(ctx, newMgr(), Options{Users: 3, Seed: 7})
	require.NoError(t, err)
	second, err := Run(ctx, newMgr(), Options{Users: 3, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRun_SharedPassword(t *testing.T) {
	auditLog, err := audit.NewLogger(audit.Options{Enabled: false})
	require.NoError(t, err)
	mgr := auth.NewManager(auth.NewInMemoryRepository(), auditLog, nil, auth.Options{})

	seeded, err := Run(context.Background(), mgr, Options{Users: 3, Password: "shared-demo-password"})
	require.NoError(t, err)
	for _, u := range seeded {
		assert.Equal(t, "shared-demo-password", u.Password)
	}
}
