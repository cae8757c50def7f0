package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscope-systems/vulnscope-core/internal/crypto"
)

func TestFileRepository_PersistsAcrossReload(t *testing.T) {
	cm, err := crypto.NewManager(crypto.Config{ConfidentialKey: "store-test-key"})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "credentials.enc")
	ctx := context.Background()

	repo, err := NewFileRepository(path, cm)
	require.NoError(t, err)

	cred := &Credential{ID: "u1", Username: "alice", PasswordHash: "hash", Salt: "salt", Roles: []string{"user"}}
	require.NoError(t, repo.Create(ctx, cred))

	// The on-disk form is an envelope, not plaintext JSON.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "alice")

	env, err := crypto.ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, crypto.ClassificationConfidential, env.Classification)

	// A second repository over the same file sees the record.
	reloaded, err := NewFileRepository(path, cm)
	require.NoError(t, err)
	got, err := reloaded.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, []string{"user"}, got.Roles)
}

func TestFileRepository_MutationsRewriteFile(t *testing.T) {
	cm, err := crypto.NewManager(crypto.Config{})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "credentials.enc")
	ctx := context.Background()

	repo, err := NewFileRepository(path, cm)
	require.NoError(t, err)

	cred := &Credential{ID: "u1", Username: "alice", PasswordHash: "h", Salt: "s"}
	require.NoError(t, repo.Create(ctx, cred))

	cred.FailedAttempts = 2
	require.NoError(t, repo.Update(ctx, cred))

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedAttempts)

	require.NoError(t, repo.Delete(ctx, "alice"))
	_, err = repo.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Empty store still parses on reload.
	reloaded, err := NewFileRepository(path, cm)
	require.NoError(t, err)
	creds, err := reloaded.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestFileRepository_MissingFileIsEmptyStore(t *testing.T) {
	cm, err := crypto.NewManager(crypto.Config{})
	require.NoError(t, err)

	repo, err := NewFileRepository(filepath.Join(t.TempDir(), "absent.enc"), cm)
	require.NoError(t, err)

	creds, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, creds)
}
