// Package crypto implements classification-tiered envelope encryption
// for the security core. Each non-public tier is keyed independently;
// envelopes are self-describing so data encrypted under a retired key
// remains decryptable after rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize   = 32
	saltSize  = 16
	kdfRounds = 120000
)

// Key is a single symmetric key together with its identifying metadata.
type Key struct {
	ID        string
	Algorithm string
	Material  []byte
	CreatedAt time.Time
}

// Config supplies optional key material per tier. Empty strings cause a
// random key to be generated at startup; supplied material is stretched
// with PBKDF2 so short config values still yield full-size keys.
type Config struct {
	InternalKey     string
	ConfidentialKey string
	RestrictedKey   string
}

// Manager holds the active key per classification tier plus every key
// ever issued, so old envelopes stay readable after rotation.
type Manager struct {
	mu     sync.RWMutex
	active map[Classification]*Key
	keys   map[string]*Key
}

// NewManager creates a Manager with one active key per non-public tier.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		active: make(map[Classification]*Key),
		keys:   make(map[string]*Key),
	}

	tiers := map[Classification]string{
		ClassificationInternal:     cfg.InternalKey,
		ClassificationConfidential: cfg.ConfidentialKey,
		ClassificationRestricted:   cfg.RestrictedKey,
	}
	for tier, material := range tiers {
		key, err := newKey(tier, material)
		if err != nil {
			return nil, err
		}
		m.active[tier] = key
		m.keys[key.ID] = key
	}
	return m, nil
}

func newKey(tier Classification, material string) (*Key, error) {
	var raw []byte
	if material == "" {
		raw = make([]byte, keySize)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
	} else {
		// Deterministic per-tier salt so the same config yields the
		// same key across restarts.
		salt := sha256.Sum256([]byte("vulnscope-key-" + string(tier)))
		raw = pbkdf2.Key([]byte(material), salt[:saltSize], kdfRounds, keySize, sha256.New)
	}
	// The key id is a fingerprint of the key bytes, so config-derived
	// keys keep the same id across restarts and envelopes written
	// before a restart still resolve.
	sum := sha256.Sum256(raw)
	return &Key{
		ID:        hex.EncodeToString(sum[:8]),
		Algorithm: AlgorithmAESGCM,
		Material:  raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Encrypt wraps payload in an envelope for the given tier. Public
// payloads are stored plaintext-marked; all other tiers use AES-256-GCM
// under the tier's active key.
func (m *Manager) Encrypt(payload []byte, classification Classification) (*Envelope, error) {
	if classification == ClassificationPublic {
		return &Envelope{
			Version:        envelopeVersion,
			Classification: ClassificationPublic,
			Plaintext:      payload,
		}, nil
	}

	m.mu.RLock()
	key, ok := m.active[classification]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, classification)
	}

	block, err := aes.NewCipher(key.Material)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}

	return &Envelope{
		Version:        envelopeVersion,
		Classification: classification,
		KeyID:          key.ID,
		Algorithm:      key.Algorithm,
		Nonce:          nonce,
		Data:           gcm.Seal(nil, nonce, payload, nil),
	}, nil
}

// Decrypt recovers the payload from an envelope, selecting the key by
// the envelope's embedded key id.
func (m *Manager) Decrypt(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrInvalidEnvelope
	}
	if env.Classification == ClassificationPublic {
		return env.Plaintext, nil
	}

	m.mu.RLock()
	key, ok := m.keys[env.KeyID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, env.KeyID)
	}

	block, err := aes.NewCipher(key.Material)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, ErrInvalidEnvelope
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// EncryptJSON marshals v and encrypts the result at the given tier.
func (m *Manager) EncryptJSON(v any, classification Classification) (*Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return m.Encrypt(payload, classification)
}

// DecryptJSON decrypts the envelope and unmarshals the payload into v.
func (m *Manager) DecryptJSON(env *Envelope, v any) error {
	payload, err := m.Decrypt(env)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}

// RotateKey issues a fresh random key for future encryptions at the
// given tier. The previous key is retained so existing envelopes remain
// decryptable; data is never re-encrypted on rotation.
func (m *Manager) RotateKey(classification Classification) (string, error) {
	if classification == ClassificationPublic {
		return "", fmt.Errorf("%w: public tier has no key", ErrUnknownClass)
	}
	key, err := newKey(classification, "")
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[classification]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownClass, classification)
	}
	m.active[classification] = key
	m.keys[key.ID] = key
	return key.ID, nil
}

// ActiveKeyID returns the id of the current key for a tier.
func (m *Manager) ActiveKeyID(classification Classification) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.active[classification]
	if !ok {
		return "", false
	}
	return key.ID, true
}

// DeriveKey derives a key from a password using PBKDF2-HMAC-SHA256.
// When salt is nil a random salt is generated; the salt actually used
// is returned alongside the key.
func DeriveKey(password string, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("salt generation: %w", err)
		}
	}
	key := pbkdf2.Key([]byte(password), salt, kdfRounds, keySize, sha256.New)
	return key, salt, nil
}
