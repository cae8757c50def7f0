package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{})
	require.NoError(t, err)
	return m
}

func TestEncryptDecrypt_AllTiers(t *testing.T) {
	m := newTestManager(t)

	payload := []byte("finding: CVE-2024-3094 reachable from handler")
	for _, tier := range []Classification{
		ClassificationPublic,
		ClassificationInternal,
		ClassificationConfidential,
		ClassificationRestricted,
	} {
		env, err := m.Encrypt(payload, tier)
		require.NoError(t, err, "tier %s", tier)

		got, err := m.Decrypt(env)
		require.NoError(t, err, "tier %s", tier)
		assert.Equal(t, payload, got, "tier %s", tier)
	}
}

func TestEncrypt_PublicUsesPlaintextMarker(t *testing.T) {
	m := newTestManager(t)

	env, err := m.Encrypt([]byte("hello"), ClassificationPublic)
	require.NoError(t, err)

	assert.False(t, env.IsEncrypted())
	assert.Equal(t, []byte("hello"), env.Plaintext)
	assert.Empty(t, env.KeyID)
	assert.Empty(t, env.Data)
}

func TestEncrypt_ConfidentialHidesPlaintext(t *testing.T) {
	m := newTestManager(t)

	env, err := m.Encrypt([]byte("secret"), ClassificationConfidential)
	require.NoError(t, err)

	assert.True(t, env.IsEncrypted())
	assert.Empty(t, env.Plaintext)
	assert.NotContains(t, string(env.Data), "secret")
	assert.NotEmpty(t, env.KeyID)
	assert.Equal(t, AlgorithmAESGCM, env.Algorithm)
}

func TestEncryptJSON_RoundTripsStructuredPayload(t *testing.T) {
	m := newTestManager(t)

	in := map[string]any{"severity": "high", "count": float64(3)}
	env, err := m.EncryptJSON(in, ClassificationRestricted)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, m.DecryptJSON(env, &out))
	assert.Equal(t, in, out)
}

func TestEnvelope_MarshalRoundTrip(t *testing.T) {
	m := newTestManager(t)

	env, err := m.Encrypt([]byte("payload"), ClassificationInternal)
	require.NoError(t, err)

	raw, err := env.Marshal()
	require.NoError(t, err)

	parsed, err := ParseEnvelope(raw)
	require.NoError(t, err)

	got, err := m.Decrypt(parsed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestRotateKey_OldEnvelopesStillDecrypt(t *testing.T) {
	m := newTestManager(t)

	before, err := m.Encrypt([]byte("pre-rotation"), ClassificationConfidential)
	require.NoError(t, err)
	oldID, ok := m.ActiveKeyID(ClassificationConfidential)
	require.True(t, ok)

	newID, err := m.RotateKey(ClassificationConfidential)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, newID)

	// Data encrypted before rotation remains readable.
	got, err := m.Decrypt(before)
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-rotation"), got)

	// New encryptions use the new key.
	after, err := m.Encrypt([]byte("post-rotation"), ClassificationConfidential)
	require.NoError(t, err)
	assert.Equal(t, newID, after.KeyID)
}

func TestRotateKey_PublicTierRejected(t *testing.T) {
	m := newTestManager(t)

	_, err := m.RotateKey(ClassificationPublic)
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestDecrypt_UnknownKeyID(t *testing.T) {
	m := newTestManager(t)

	env, err := m.Encrypt([]byte("x"), ClassificationInternal)
	require.NoError(t, err)

	other := newTestManager(t)
	_, err = other.Decrypt(env)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	m := newTestManager(t)

	env, err := m.Encrypt([]byte("x"), ClassificationInternal)
	require.NoError(t, err)
	env.Data[0] ^= 0xff

	_, err = m.Decrypt(env)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDeriveKey_DeterministicWithSameSalt(t *testing.T) {
	k1, salt, err := DeriveKey("correct horse battery staple", nil)
	require.NoError(t, err)
	require.Len(t, salt, saltSize)

	k2, _, err := DeriveKey("correct horse battery staple", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, _, err := DeriveKey("wrong password", salt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestNewManager_ConfiguredMaterialIsStable(t *testing.T) {
	cfg := Config{ConfidentialKey: "configured-material"}

	m1, err := NewManager(cfg)
	require.NoError(t, err)
	m2, err := NewManager(cfg)
	require.NoError(t, err)

	env, err := m1.Encrypt([]byte("carried across restart"), ClassificationConfidential)
	require.NoError(t, err)

	// Config-derived keys carry a fingerprint id, so an envelope
	// written before a restart decrypts under a fresh manager.
	got, err := m2.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, []byte("carried across restart"), got)
}
