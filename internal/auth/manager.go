// Package auth implements the authentication manager: credential
// storage, slow password hashing, lockout, API keys, and signed
// time-boxed tokens.
//
// Every failure path is audited with an explanatory message, but the
// error surfaced to callers is always the undifferentiated
// ErrInvalidCredentials so responses never reveal whether a username
// exists.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vulnscope-systems/vulnscope-core/internal/audit"
	"github.com/vulnscope-systems/vulnscope-core/internal/crypto"
	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
	"github.com/vulnscope-systems/vulnscope-core/internal/metrics"
	"github.com/vulnscope-systems/vulnscope-core/pkg/tokens"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrPasswordTooShort   = errors.New("password below minimum length")
	ErrInvalidToken       = tokens.ErrInvalidToken
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrAPIKeyExists       = errors.New("api key name already in use")
)

const component = "auth"

// Options configures a Manager.
type Options struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	PasswordMinLength int
	TokenSecret       string
	TokenTTL          time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxFailedAttempts <= 0 {
		o.MaxFailedAttempts = 5
	}
	if o.LockoutDuration <= 0 {
		o.LockoutDuration = 15 * time.Minute
	}
	if o.PasswordMinLength <= 0 {
		o.PasswordMinLength = 12
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = time.Hour
	}
}

type tokenState struct {
	revoked bool
}

// Manager is the authentication manager. The failed-attempt counter,
// lockout state and token index are read-modify-write cycles guarded by
// a single mutex so concurrent attempts on the same principal cannot
// lose updates.
type Manager struct {
	opts     Options
	repo     Repository
	tokenGen *tokens.TokenGenerator
	auditLog *audit.Logger
	log      *logging.Logger

	mu sync.Mutex
	// issued indexes token ids for explicit revocation. Memory-only by
	// decision: a cryptographically valid token whose id is unknown
	// (e.g. after a restart) is accepted with a logged warning.
	issued map[string]*tokenState

	dummySalt []byte
}

// NewManager creates a Manager backed by the given repository.
func NewManager(repo Repository, auditLog *audit.Logger, log *logging.Logger, opts Options) *Manager {
	opts.applyDefaults()
	if log == nil {
		log = logging.Default()
	}
	dummySalt := make([]byte, 16)
	_, _ = rand.Read(dummySalt)
	return &Manager{
		opts:      opts,
		repo:      repo,
		tokenGen:  tokens.NewTokenGenerator(opts.TokenSecret, opts.TokenTTL),
		auditLog:  auditLog,
		log:       log,
		issued:    make(map[string]*tokenState),
		dummySalt: dummySalt,
	}
}

func (m *Manager) auditEvent(ctx context.Context, e *audit.Event) {
	e.Component = component
	if err := m.auditLog.Log(ctx, e); err != nil {
		m.log.WarnContext(ctx, "failed to write auth audit event", "error", err)
	}
}

func hashPassword(password string, salt []byte) string {
	key, _, _ := crypto.DeriveKey(password, salt)
	return hex.EncodeToString(key)
}

// CreateUser enrolls a new principal. Hash and salt are generated
// together; the password must meet the configured minimum length.
func (m *Manager) CreateUser(ctx context.Context, username, password string, roles []string) (*Credential, error) {
	if len(password) < m.opts.PasswordMinLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrPasswordTooShort, m.opts.PasswordMinLength)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	cred := &Credential{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hashPassword(password, salt),
		Salt:         hex.EncodeToString(salt),
		Roles:        append([]string(nil), roles...),
		CreatedAt:    time.Now().UTC(),
	}

	if err := m.repo.Create(ctx, cred); err != nil {
		m.auditEvent(ctx, &audit.Event{
			Type:    audit.EventUserCreated,
			Level:   audit.LevelError,
			Success: false,
			Details: map[string]any{"username": username, "error": err.Error()},
		})
		return nil, err
	}

	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventUserCreated,
		PrincipalID: cred.ID,
		Success:     true,
		Details:     map[string]any{"username": username, "roles": cred.Roles},
	})
	return cred, nil
}

// Authenticate verifies a username/password pair. All failure paths
// return ErrInvalidCredentials; the audit trail carries the real reason.
func (m *Manager) Authenticate(ctx context.Context, username, password, source string) (*Credential, error) {
	now := time.Now().UTC()

	cred, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		// Hash anyway so a missing username costs the same as a wrong
		// password and cannot be enumerated by timing.
		hashPassword(password, m.dummySalt)
		m.authFailure(ctx, "", username, source, "unknown username")
		return nil, ErrInvalidCredentials
	}

	// A locked account is rejected before any hashing.
	if cred.Locked(now) {
		m.authFailure(ctx, cred.ID, username, source, "account locked")
		return nil, ErrInvalidCredentials
	}

	salt, err := hex.DecodeString(cred.Salt)
	if err != nil {
		m.authFailure(ctx, cred.ID, username, source, "corrupt salt")
		return nil, ErrInvalidCredentials
	}

	computed := hashPassword(password, salt)
	if !hmac.Equal([]byte(computed), []byte(cred.PasswordHash)) {
		m.recordFailedAttempt(ctx, username, source)
		return nil, ErrInvalidCredentials
	}

	// Re-fetch under the lock so the counter reset cannot lose a
	// concurrent update on the same principal.
	m.mu.Lock()
	cred, err = m.repo.GetByUsername(ctx, username)
	if err == nil {
		cred.FailedAttempts = 0
		cred.LockedUntil = nil
		cred.LastLogin = &now
		err = m.repo.Update(ctx, cred)
	}
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to persist login state: %w", err)
	}

	metrics.AuthAttemptsTotal.WithLabelValues("password", "success").Inc()
	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventLogin,
		PrincipalID: cred.ID,
		SourceAddr:  source,
		Success:     true,
		Details:     map[string]any{"username": username},
	})
	return cred, nil
}

func (m *Manager) recordFailedAttempt(ctx context.Context, username, source string) {
	m.mu.Lock()
	cred, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		m.mu.Unlock()
		m.authFailure(ctx, "", username, source, "unknown username")
		return
	}
	lockedNow := false
	if !cred.Locked(time.Now().UTC()) {
		if cred.LockedUntil != nil {
			// Expired lockout: this is the first attempt after expiry,
			// so the counter restarts from zero.
			cred.FailedAttempts = 0
			cred.LockedUntil = nil
		}
		cred.FailedAttempts++
		if cred.FailedAttempts >= m.opts.MaxFailedAttempts {
			until := time.Now().UTC().Add(m.opts.LockoutDuration)
			cred.LockedUntil = &until
			lockedNow = true
		}
		if err := m.repo.Update(ctx, cred); err != nil {
			m.log.ErrorContext(ctx, "failed to persist failed-attempt counter", "error", err)
		}
	}
	principalID := cred.ID
	m.mu.Unlock()

	reason := "wrong password"
	if lockedNow {
		reason = "wrong password; account locked"
		metrics.AccountLockoutsTotal.Inc()
	}
	m.authFailure(ctx, principalID, username, source, reason)
}

func (m *Manager) authFailure(ctx context.Context, principalID, username, source, reason string) {
	metrics.AuthAttemptsTotal.WithLabelValues("password", "failure").Inc()
	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventLoginFailed,
		PrincipalID: principalID,
		SourceAddr:  source,
		Level:       audit.LevelWarning,
		Success:     false,
		Details:     map[string]any{"username": username, "reason": reason},
	})
}

// CreateAPIKey mints a named API key for a principal and returns the
// plaintext key once. Only its hash is stored.
func (m *Manager) CreateAPIKey(ctx context.Context, username, name string) (string, error) {
	cred, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if cred.APIKeys == nil {
		cred.APIKeys = make(map[string]string)
	}
	if _, exists := cred.APIKeys[name]; exists {
		return "", ErrAPIKeyExists
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	key := "vsk_" + base64.URLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(key))
	cred.APIKeys[name] = hex.EncodeToString(sum[:])

	if err := m.repo.Update(ctx, cred); err != nil {
		return "", err
	}
	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventTokenIssued,
		PrincipalID: cred.ID,
		Success:     true,
		Details:     map[string]any{"api_key_name": name},
	})
	return key, nil
}

// AuthenticateAPIKey resolves an API key to its principal.
func (m *Manager) AuthenticateAPIKey(ctx context.Context, key, source string) (*Credential, error) {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])

	creds, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, cred := range creds {
		for name, stored := range cred.APIKeys {
			if hmac.Equal([]byte(stored), []byte(digest)) {
				metrics.AuthAttemptsTotal.WithLabelValues("api_key", "success").Inc()
				m.auditEvent(ctx, &audit.Event{
					Type:        audit.EventLogin,
					PrincipalID: cred.ID,
					SourceAddr:  source,
					Success:     true,
					Details:     map[string]any{"method": "api_key", "api_key_name": name},
				})
				return cred, nil
			}
		}
	}

	metrics.AuthAttemptsTotal.WithLabelValues("api_key", "failure").Inc()
	m.auditEvent(ctx, &audit.Event{
		Type:       audit.EventLoginFailed,
		SourceAddr: source,
		Level:      audit.LevelWarning,
		Success:    false,
		Details:    map[string]any{"method": "api_key", "reason": "unknown api key"},
	})
	return nil, ErrInvalidCredentials
}

// RevokeAPIKey removes a named API key.
func (m *Manager) RevokeAPIKey(ctx context.Context, username, name string) error {
	cred, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if _, exists := cred.APIKeys[name]; !exists {
		return fmt.Errorf("api key %q not found", name)
	}
	delete(cred.APIKeys, name)
	if err := m.repo.Update(ctx, cred); err != nil {
		return err
	}
	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventTokenRevoked,
		PrincipalID: cred.ID,
		Success:     true,
		Details:     map[string]any{"api_key_name": name},
	})
	return nil
}

// IssueToken creates a signed access token for a principal and records
// its id in the revocation index. The token id is returned alongside
// the token so callers can revoke it later without re-parsing.
func (m *Manager) IssueToken(ctx context.Context, username string) (string, string, error) {
	cred, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		return "", "", err
	}

	token, jti, err := m.tokenGen.Generate(cred.ID, cred.Username, cred.Roles)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}

	m.mu.Lock()
	m.issued[jti] = &tokenState{}
	m.mu.Unlock()

	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventTokenIssued,
		PrincipalID: cred.ID,
		Success:     true,
		Details:     map[string]any{"token_id": jti},
	})
	return token, jti, nil
}

// ValidateToken verifies signature and expiry, then consults the
// revocation index. A token whose id is absent from the index (for
// example after a process restart) is accepted with a logged warning.
func (m *Manager) ValidateToken(ctx context.Context, tokenString string) (*tokens.Claims, error) {
	claims, err := m.tokenGen.Validate(tokenString)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("token", "failure").Inc()
		m.auditEvent(ctx, &audit.Event{
			Type:    audit.EventTokenValidated,
			Level:   audit.LevelWarning,
			Success: false,
			Details: map[string]any{"reason": err.Error()},
		})
		return nil, err
	}

	m.mu.Lock()
	state, known := m.issued[claims.ID]
	m.mu.Unlock()

	if known && state.revoked {
		metrics.AuthAttemptsTotal.WithLabelValues("token", "failure").Inc()
		m.auditEvent(ctx, &audit.Event{
			Type:        audit.EventTokenValidated,
			PrincipalID: claims.Subject,
			Level:       audit.LevelWarning,
			Success:     false,
			Details:     map[string]any{"token_id": claims.ID, "reason": "revoked"},
		})
		return nil, ErrTokenRevoked
	}
	if !known {
		m.log.WarnContext(ctx, "accepting token absent from revocation index",
			"token_id", claims.ID, "subject", claims.Subject)
	}

	metrics.AuthAttemptsTotal.WithLabelValues("token", "success").Inc()
	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventTokenValidated,
		PrincipalID: claims.Subject,
		Success:     true,
		Details:     map[string]any{"token_id": claims.ID},
	})
	return claims, nil
}

// RevokeToken marks a token id as revoked in the in-memory index.
func (m *Manager) RevokeToken(ctx context.Context, jti string) {
	m.mu.Lock()
	state, ok := m.issued[jti]
	if !ok {
		state = &tokenState{}
		m.issued[jti] = state
	}
	state.revoked = true
	m.mu.Unlock()

	m.auditEvent(ctx, &audit.Event{
		Type:    audit.EventTokenRevoked,
		Success: true,
		Details: map[string]any{"token_id": jti},
	})
}

// ChangePassword rotates a principal's password after verifying the
// current one.
func (m *Manager) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if _, err := m.Authenticate(ctx, username, oldPassword, ""); err != nil {
		return err
	}
	return m.setPassword(ctx, username, newPassword)
}

// ResetPassword sets a new password without the old one. Admin-only;
// the enforcement wrapper gates it on users:manage.
func (m *Manager) ResetPassword(ctx context.Context, username, newPassword string) error {
	return m.setPassword(ctx, username, newPassword)
}

func (m *Manager) setPassword(ctx context.Context, username, newPassword string) error {
	if len(newPassword) < m.opts.PasswordMinLength {
		return fmt.Errorf("%w: need at least %d characters", ErrPasswordTooShort, m.opts.PasswordMinLength)
	}
	cred, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		return err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	cred.PasswordHash = hashPassword(newPassword, salt)
	cred.Salt = hex.EncodeToString(salt)
	cred.FailedAttempts = 0
	cred.LockedUntil = nil

	if err := m.repo.Update(ctx, cred); err != nil {
		return err
	}
	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventPasswordChanged,
		PrincipalID: cred.ID,
		Success:     true,
		Details:     map[string]any{"username": username},
	})
	return nil
}

// AddRole grants a role to a principal.
func (m *Manager) AddRole(ctx context.Context, username, role string) error {
	cred, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	for _, r := range cred.Roles {
		if r == role {
			return nil
		}
	}
	cred.Roles = append(cred.Roles, role)
	if err := m.repo.Update(ctx, cred); err != nil {
		return err
	}
	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventRoleChanged,
		PrincipalID: cred.ID,
		Success:     true,
		Details:     map[string]any{"username": username, "added": role},
	})
	return nil
}

// RemoveRole withdraws a role from a principal.
func (m *Manager) RemoveRole(ctx context.Context, username, role string) error {
	cred, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	kept := cred.Roles[:0]
	for _, r := range cred.Roles {
		if r != role {
			kept = append(kept, r)
		}
	}
	cred.Roles = kept
	if err := m.repo.Update(ctx, cred); err != nil {
		return err
	}
	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventRoleChanged,
		PrincipalID: cred.ID,
		Success:     true,
		Details:     map[string]any{"username": username, "removed": role},
	})
	return nil
}

// DeleteUser removes a principal. Only reachable through an explicit
// admin operation.
func (m *Manager) DeleteUser(ctx context.Context, username string) error {
	cred, err := m.repo.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, username); err != nil {
		return err
	}
	m.auditEvent(ctx, &audit.Event{
		Type:        audit.EventUserDeleted,
		PrincipalID: cred.ID,
		Success:     true,
		Details:     map[string]any{"username": username},
	})
	return nil
}

// GetUser loads a credential record by username.
func (m *Manager) GetUser(ctx context.Context, username string) (*Credential, error) {
	return m.repo.GetByUsername(ctx, username)
}

// GetUserByID loads a credential record by principal id.
func (m *Manager) GetUserByID(ctx context.Context, id string) (*Credential, error) {
	return m.repo.GetByID(ctx, id)
}

// ListUsers returns all principals.
func (m *Manager) ListUsers(ctx context.Context) ([]*Credential, error) {
	return m.repo.List(ctx)
}
