// Package security composes the encryption, audit, authentication,
// authorization, compliance and sandbox subsystems behind one manager,
// and mediates every privileged operation through it.
package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vulnscope-systems/vulnscope-core/internal/audit"
	"github.com/vulnscope-systems/vulnscope-core/internal/auth"
	"github.com/vulnscope-systems/vulnscope-core/internal/authz"
	"github.com/vulnscope-systems/vulnscope-core/internal/compliance"
	"github.com/vulnscope-systems/vulnscope-core/internal/config"
	"github.com/vulnscope-systems/vulnscope-core/internal/crypto"
	"github.com/vulnscope-systems/vulnscope-core/internal/events"
	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
	"github.com/vulnscope-systems/vulnscope-core/internal/sandbox"
)

var (
	// ErrNoPrincipal is returned by Enforce when the context carries no
	// authenticated principal.
	ErrNoPrincipal = errors.New("no authenticated principal")
	// ErrPermissionDenied is returned when the principal lacks the
	// permission an operation requires.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnknownSession is returned for session ids the manager did not
	// issue or has already released.
	ErrUnknownSession = errors.New("unknown session")
)

// Manager wires the security subsystems together and owns the session
// index. All fields are initialized by New and read-only afterwards.
type Manager struct {
	cfg *config.Config
	log *logging.Logger

	Crypto     *crypto.Manager
	Audit      *audit.Logger
	Auth       *auth.Manager
	Authz      *authz.Engine
	Compliance *compliance.Engine
	Sandbox    *sandbox.Engine

	bus    events.Bus
	busSub events.Subscription

	mu       sync.RWMutex
	sessions map[string]*SecurityContext
}

// New builds a fully wired manager from configuration. Baseline
// verification runs at the end; weaknesses are logged as warnings and
// never block startup.
func New(ctx context.Context, cfg *config.Config, bus events.Bus, log *logging.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Default()
	}

	cm, err := crypto.NewManager(crypto.Config{
		InternalKey:     cfg.Security.InternalKey,
		ConfidentialKey: cfg.Security.ConfidentialKey,
		RestrictedKey:   cfg.Security.RestrictedKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	auditLog, err := audit.NewLogger(audit.Options{
		Enabled:       cfg.Audit.Enabled,
		Directory:     cfg.Audit.Directory,
		Encrypt:       cfg.Audit.Encrypt,
		RetentionDays: cfg.Audit.RetentionDays,
		Crypto:        cm,
		Bus:           bus,
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}

	repo, err := newRepository(ctx, cfg, cm)
	if err != nil {
		return nil, err
	}

	authMgr := auth.NewManager(repo, auditLog, log, auth.Options{
		MaxFailedAttempts: cfg.Security.MaxFailedAttempts,
		LockoutDuration:   cfg.Security.LockoutDuration,
		PasswordMinLength: cfg.Security.PasswordMinLength,
		TokenSecret:       cfg.Security.TokenSecret,
		TokenTTL:          cfg.Security.TokenTTL,
	})

	m := &Manager{
		cfg:      cfg,
		log:      log,
		Crypto:   cm,
		Audit:    auditLog,
		Auth:     authMgr,
		Authz:    authz.NewEngine(auditLog, log),
		bus:      bus,
		sessions: make(map[string]*SecurityContext),
	}
	m.Compliance = compliance.NewEngine(m.complianceState, auditLog, log)
	m.Sandbox = sandbox.NewEngine(sandbox.Options{
		BaseDir:          cfg.Sandbox.WorkDir,
		DefaultIsolation: sandbox.IsolationLevel(cfg.Sandbox.Isolation),
		DefaultLimits:    sandboxLimits(cfg.Sandbox),
		ContainerImage:   cfg.Sandbox.ContainerImage,
		AuditLog:         auditLog,
		Logger:           log,
	})

	if bus != nil {
		sub, err := bus.Subscribe(events.SubjectConfigChanged, func(ctx context.Context, msg *events.Message) error {
			m.log.InfoContext(ctx, "configuration change observed, re-verifying security baseline")
			m.VerifyBaseline(ctx)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to watch configuration changes: %w", err)
		}
		m.busSub = sub
	}

	m.VerifyBaseline(ctx)
	return m, nil
}

func newRepository(ctx context.Context, cfg *config.Config, cm *crypto.Manager) (auth.Repository, error) {
	switch cfg.Store.Type {
	case "memory":
		return auth.NewInMemoryRepository(), nil
	case "postgres":
		repo, err := auth.NewPostgresRepository(ctx, cfg.Store.Postgres.ConnString())
		if err != nil {
			return nil, fmt.Errorf("failed to open credential database: %w", err)
		}
		return repo, nil
	default:
		repo, err := auth.NewFileRepository(cfg.Store.Path, cm)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		return repo, nil
	}
}

func sandboxLimits(c config.SandboxConfig) sandbox.ResourceLimits {
	limits := sandbox.DefaultLimits()
	if c.MemoryLimitMB > 0 {
		limits.MemoryBytes = c.MemoryLimitMB << 20
	}
	if c.CPUTimeLimit > 0 {
		limits.CPUTime = c.CPUTimeLimit
	}
	if c.WallTimeLimit > 0 {
		limits.WallTime = c.WallTimeLimit
	}
	if c.DiskLimitMB > 0 {
		limits.DiskBytes = c.DiskLimitMB << 20
	}
	if c.MaxProcesses > 0 {
		limits.MaxProcesses = c.MaxProcesses
	}
	if c.MaxFileSizeMB > 0 {
		limits.MaxFileSize = c.MaxFileSizeMB << 20
	}
	limits.NetworkAccess = c.NetworkAccess
	return limits
}

// complianceState snapshots the live configuration for the compliance
// validators.
func (m *Manager) complianceState() compliance.State {
	adminPresent := false
	if _, err := m.Auth.GetUser(context.Background(), m.cfg.Security.AdminUsername); err == nil {
		adminPresent = true
	}
	return compliance.State{
		PasswordMinLength:    m.cfg.Security.PasswordMinLength,
		MaxFailedAttempts:    m.cfg.Security.MaxFailedAttempts,
		LockoutDuration:      m.cfg.Security.LockoutDuration,
		MFAEnabled:           m.cfg.Security.MFAEnabled,
		AuditEnabled:         m.cfg.Audit.Enabled,
		AuditEncrypted:       m.cfg.Audit.Encrypt,
		AuditRetentionDays:   m.cfg.Audit.RetentionDays,
		EncryptionTiers:      []string{"internal", "confidential", "restricted"},
		SandboxNetworkAccess: m.cfg.Sandbox.NetworkAccess,
		AdminPresent:         adminPresent,
	}
}

// VerifyBaseline checks the running configuration against the security
// baseline. Findings are logged and returned; they never block startup,
// since a partially hardened system still beats no system.
func (m *Manager) VerifyBaseline(ctx context.Context) []string {
	var warnings []string
	add := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if m.cfg.Security.PasswordMinLength < 12 {
		add("password minimum length %d is below the baseline of 12", m.cfg.Security.PasswordMinLength)
	}
	if m.cfg.Security.MaxFailedAttempts <= 0 {
		add("account lockout is disabled")
	}
	if !m.cfg.Security.MFAEnabled {
		add("multi-factor authentication is disabled")
	}
	if !m.cfg.Audit.Enabled {
		add("audit logging is disabled")
	}
	if m.cfg.Security.TokenSecret == "" || m.cfg.Security.TokenSecret == "change-this-in-production" {
		add("token signing secret is unset or still the shipped default")
	}
	if _, err := m.Auth.GetUser(ctx, m.cfg.Security.AdminUsername); err != nil {
		add("administrator principal %q does not exist", m.cfg.Security.AdminUsername)
	}

	for _, w := range warnings {
		m.log.WarnContext(ctx, "security baseline check failed", "finding", w)
	}
	if len(warnings) == 0 {
		m.log.InfoContext(ctx, "security baseline verified")
	}
	return warnings
}

// Login authenticates a principal with username and password, issues an
// access token and opens a session. The returned context identifies the
// session; the token string is handed to the caller exactly once.
func (m *Manager) Login(ctx context.Context, username, password, source string) (*SecurityContext, string, error) {
	cred, err := m.Auth.Authenticate(ctx, username, password, source)
	if err != nil {
		return nil, "", err
	}
	token, jti, err := m.Auth.IssueToken(ctx, username)
	if err != nil {
		return nil, "", err
	}

	sc := &SecurityContext{
		SessionID:   uuid.New().String(),
		PrincipalID: cred.ID,
		Username:    cred.Username,
		Roles:       append([]string(nil), cred.Roles...),
		Source:      source,
		TokenID:     jti,
		CreatedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.sessions[sc.SessionID] = sc
	m.mu.Unlock()

	m.log.InfoContext(sc.Bind(ctx), "session opened", "source", source)
	return sc, token, nil
}

// TokenLogin opens a session from a previously issued access token.
func (m *Manager) TokenLogin(ctx context.Context, tokenString, source string) (*SecurityContext, error) {
	claims, err := m.Auth.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	sc := &SecurityContext{
		SessionID:   uuid.New().String(),
		PrincipalID: claims.Subject,
		Username:    claims.Username,
		Roles:       append([]string(nil), claims.Roles...),
		Source:      source,
		TokenID:     claims.ID,
		CreatedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.sessions[sc.SessionID] = sc
	m.mu.Unlock()

	m.log.InfoContext(sc.Bind(ctx), "session opened from token", "source", source)
	return sc, nil
}

// Session returns the security context for an open session.
func (m *Manager) Session(sessionID string) (*SecurityContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return sc, nil
}

// Logout closes a session and revokes its token.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sc, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	if sc.TokenID != "" {
		m.Auth.RevokeToken(ctx, sc.TokenID)
	}
	if err := m.Audit.Log(ctx, &audit.Event{
		Type:        audit.EventLogout,
		Component:   "security",
		PrincipalID: sc.PrincipalID,
		Success:     true,
		Details:     map[string]any{"session_id": sc.SessionID},
	}); err != nil {
		m.log.WarnContext(ctx, "failed to audit logout", "error", err)
	}
	m.log.InfoContext(sc.Bind(ctx), "session closed")
	return nil
}

// Enforce runs fn only if the context carries a principal holding perm.
// Both the decision and the operation's outcome are audited. The
// operation name identifies what was attempted in the audit trail.
func (m *Manager) Enforce(ctx context.Context, perm authz.Permission, operation string, fn func(ctx context.Context) error) error {
	sc := FromContext(ctx)
	if sc == nil {
		if err := m.Audit.Log(ctx, &audit.Event{
			Type:      audit.EventPermissionDenied,
			Component: "security",
			Level:     audit.LevelWarning,
			Success:   false,
			Details:   map[string]any{"operation": operation, "permission": string(perm), "reason": "no principal"},
		}); err != nil {
			m.log.WarnContext(ctx, "failed to audit denial", "error", err)
		}
		return fmt.Errorf("%w: operation %q requires %s", ErrNoPrincipal, operation, perm)
	}

	if !m.Authz.HasPermission(ctx, sc.PrincipalID, sc.Roles, perm, operation) {
		return fmt.Errorf("%w: operation %q requires %s", ErrPermissionDenied, operation, perm)
	}

	err := fn(ctx)
	event := &audit.Event{
		Type:        audit.EventOperation,
		Component:   "security",
		PrincipalID: sc.PrincipalID,
		Success:     err == nil,
		Details:     map[string]any{"operation": operation},
	}
	if err != nil {
		event.Level = audit.LevelError
		event.Details["error"] = err.Error()
	}
	if auditErr := m.Audit.Log(ctx, event); auditErr != nil {
		m.log.WarnContext(ctx, "failed to audit operation", "operation", operation, "error", auditErr)
	}
	return err
}

// EnsureAdmin creates the configured administrator principal when it is
// missing. Returns true when a principal was created.
func (m *Manager) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	username := m.cfg.Security.AdminUsername
	if _, err := m.Auth.GetUser(ctx, username); err == nil {
		return false, nil
	}
	if _, err := m.Auth.CreateUser(ctx, username, password, []string{string(authz.RoleAdministrator)}); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases bus subscriptions. Component shutdown (database pools,
// broker connections) belongs to whoever constructed them.
func (m *Manager) Close() error {
	if m.busSub != nil {
		return m.busSub.Unsubscribe()
	}
	return nil
}
