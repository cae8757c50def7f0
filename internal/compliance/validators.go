package compliance

import (
	"context"
	"fmt"
	"time"
)

// ValidatorID is the typed key of the validator registry.
type ValidatorID string

const (
	ValidatorPasswordMinLength ValidatorID = "password_min_length"
	ValidatorLockoutPolicy     ValidatorID = "lockout_policy"
	ValidatorMFAEnabled        ValidatorID = "mfa_enabled"
	ValidatorAuditEnabled      ValidatorID = "audit_enabled"
	ValidatorAuditEncrypted    ValidatorID = "audit_encrypted"
	ValidatorAuditRetention    ValidatorID = "audit_retention"
	ValidatorEncryptionTiers   ValidatorID = "encryption_tiers"
	ValidatorSandboxNetwork    ValidatorID = "sandbox_network"
	ValidatorAdminPresent      ValidatorID = "admin_present"
)

// ValidatorFunc checks one requirement against the security core's
// current state. It returns whether the requirement holds and an
// evidence string describing what was observed.
type ValidatorFunc func(ctx context.Context, state State, params map[string]any) (bool, string)

// State is the snapshot of component configuration the validators read.
// It reflects, not owns, the other components' state.
type State struct {
	PasswordMinLength    int
	MaxFailedAttempts    int
	LockoutDuration      time.Duration
	MFAEnabled           bool
	AuditEnabled         bool
	AuditEncrypted       bool
	AuditRetentionDays   int
	EncryptionTiers      []string
	SandboxNetworkAccess bool
	AdminPresent         bool
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// builtinValidators returns the default validator registry.
func builtinValidators() map[ValidatorID]ValidatorFunc {
	return map[ValidatorID]ValidatorFunc{
		ValidatorPasswordMinLength: func(ctx context.Context, s State, params map[string]any) (bool, string) {
			minLen := paramInt(params, "min_length", 12)
			return s.PasswordMinLength >= minLen,
				fmt.Sprintf("configured minimum password length is %d (required %d)", s.PasswordMinLength, minLen)
		},
		ValidatorLockoutPolicy: func(ctx context.Context, s State, params map[string]any) (bool, string) {
			maxAttempts := paramInt(params, "max_attempts", 10)
			ok := s.MaxFailedAttempts > 0 && s.MaxFailedAttempts <= maxAttempts && s.LockoutDuration > 0
			return ok, fmt.Sprintf("lockout after %d attempts for %s", s.MaxFailedAttempts, s.LockoutDuration)
		},
		ValidatorMFAEnabled: func(ctx context.Context, s State, params map[string]any) (bool, string) {
			return s.MFAEnabled, fmt.Sprintf("multi-factor authentication enabled: %v", s.MFAEnabled)
		},
		ValidatorAuditEnabled: func(ctx context.Context, s State, params map[string]any) (bool, string) {
			return s.AuditEnabled, fmt.Sprintf("audit logging enabled: %v", s.AuditEnabled)
		},
		ValidatorAuditEncrypted: func(ctx context.Context, s State, params map[string]any) (bool, string) {
			return s.AuditEncrypted, fmt.Sprintf("audit at-rest encryption enabled: %v", s.AuditEncrypted)
		},
		ValidatorAuditRetention: func(ctx context.Context, s State, params map[string]any) (bool, string) {
			minDays := paramInt(params, "min_days", 90)
			return s.AuditRetentionDays >= minDays,
				fmt.Sprintf("audit retention is %d days (required %d)", s.AuditRetentionDays, minDays)
		},
		ValidatorEncryptionTiers: func(ctx context.Context, s State, params map[string]any) (bool, string) {
			return len(s.EncryptionTiers) >= 3,
				fmt.Sprintf("encryption keys present for tiers: %v", s.EncryptionTiers)
		},
		ValidatorSandboxNetwork: func(ctx context.Context, s State, params map[string]any) (bool, string) {
			return !s.SandboxNetworkAccess,
				fmt.Sprintf("sandbox network access enabled: %v", s.SandboxNetworkAccess)
		},
		ValidatorAdminPresent: func(ctx context.Context, s State, params map[string]any) (bool, string) {
			return s.AdminPresent, fmt.Sprintf("administrator principal present: %v", s.AdminPresent)
		},
	}
}

// DefaultRequirements returns the requirement set registered when no
// requirements file is supplied.
func DefaultRequirements() []*Requirement {
	return []*Requirement{
		{
			ID: "VS-AC-001", Name: "Minimum password length",
			Description: "Passwords must be at least 12 characters.",
			Standard:    "VulnScope Baseline", Category: "access-control",
			Validator: ValidatorPasswordMinLength, Params: map[string]any{"min_length": 12},
			Severity:       SeverityHigh,
			Recommendation: "Raise security.password_min_length to 12 or more.",
			References:     []string{"NIST SP 800-63B"},
		},
		{
			ID: "VS-AC-002", Name: "Account lockout policy",
			Description: "Repeated failed logins must lock the account.",
			Standard:    "VulnScope Baseline", Category: "access-control",
			Validator: ValidatorLockoutPolicy, Params: map[string]any{"max_attempts": 10},
			Severity:       SeverityHigh,
			Recommendation: "Configure security.max_failed_attempts and security.lockout_duration.",
		},
		{
			ID: "VS-AC-003", Name: "Multi-factor authentication",
			Description: "Interactive logins should require a second factor.",
			Standard:    "VulnScope Baseline", Category: "access-control",
			Validator: ValidatorMFAEnabled, Severity: SeverityMedium,
			Recommendation: "Enable security.mfa_enabled.",
		},
		{
			ID: "VS-AU-001", Name: "Audit logging enabled",
			Description: "Security events must be recorded.",
			Standard:    "VulnScope Baseline", Category: "audit",
			Validator: ValidatorAuditEnabled, Severity: SeverityCritical,
			Recommendation: "Enable audit.enabled.",
		},
		{
			ID: "VS-AU-002", Name: "Audit log retention",
			Description: "Audit records must be kept for at least 90 days.",
			Standard:    "VulnScope Baseline", Category: "audit",
			Validator: ValidatorAuditRetention, Params: map[string]any{"min_days": 90},
			Severity:       SeverityMedium,
			Recommendation: "Raise audit.retention_days to 90 or more.",
		},
		{
			ID: "VS-CR-001", Name: "Tiered encryption keys",
			Description: "Every non-public classification tier needs key material.",
			Standard:    "VulnScope Baseline", Category: "cryptography",
			Validator: ValidatorEncryptionTiers, Severity: SeverityCritical,
		},
		{
			ID: "VS-SB-001", Name: "Sandbox network isolation",
			Description: "Sandboxed commands must not reach the network by default.",
			Standard:    "VulnScope Baseline", Category: "sandbox",
			Validator: ValidatorSandboxNetwork, Severity: SeverityHigh,
			Recommendation: "Disable sandbox.network_access.",
		},
		{
			ID: "VS-AC-004", Name: "Administrator principal",
			Description: "A named administrator principal must exist.",
			Standard:    "VulnScope Baseline", Category: "access-control",
			Validator: ValidatorAdminPresent, Severity: SeverityMedium,
		},
	}
}
