// Package authz implements role-based access control. Every check,
// granted or denied, is written to the audit log.
package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vulnscope-systems/vulnscope-core/internal/audit"
	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
	"github.com/vulnscope-systems/vulnscope-core/internal/metrics"
)

var ErrUnknownRole = errors.New("unknown role")

// Engine evaluates permissions against the role→permission mapping.
// The mapping is shared mutable state; all reads and read-modify-write
// cycles go through the engine's lock.
type Engine struct {
	mu        sync.RWMutex
	rolePerms map[Role]map[Permission]struct{}

	auditLog *audit.Logger
	log      *logging.Logger
}

// NewEngine creates an Engine with the default role mapping.
func NewEngine(auditLog *audit.Logger, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	e := &Engine{
		auditLog: auditLog,
		log:      log,
	}
	e.ResetDefaults()
	return e
}

// ResetDefaults restores the built-in role→permission mapping,
// discarding runtime grants and revocations.
func (e *Engine) ResetDefaults() {
	perms := make(map[Role]map[Permission]struct{})
	for role, list := range DefaultRolePermissions() {
		set := make(map[Permission]struct{}, len(list))
		for _, p := range list {
			set[p] = struct{}{}
		}
		perms[role] = set
	}
	e.mu.Lock()
	e.rolePerms = perms
	e.mu.Unlock()
}

// HasPermission reports whether any of the principal's roles grants the
// permission. The check is audited either way.
func (e *Engine) HasPermission(ctx context.Context, principalID string, roles []string, perm Permission, resourceID string) bool {
	e.mu.RLock()
	granted := false
	for _, role := range roles {
		if set, ok := e.rolePerms[Role(role)]; ok {
			if _, ok := set[perm]; ok {
				granted = true
				break
			}
		}
	}
	e.mu.RUnlock()

	eventType := audit.EventPermissionDenied
	level := audit.LevelWarning
	result := "denied"
	if granted {
		eventType = audit.EventPermissionGranted
		level = audit.LevelDebug
		result = "granted"
	}
	metrics.PermissionChecksTotal.WithLabelValues(result).Inc()

	if err := e.auditLog.Log(ctx, &audit.Event{
		Type:        eventType,
		PrincipalID: principalID,
		Component:   "authz",
		Level:       level,
		Success:     granted,
		ResourceID:  resourceID,
		Details: map[string]any{
			"permission": string(perm),
			"roles":      roles,
		},
	}); err != nil {
		e.log.WarnContext(ctx, "failed to audit permission check", "error", err)
	}

	return granted
}

// Grant adds a permission to a role at runtime.
func (e *Engine) Grant(role Role, perm Permission) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.rolePerms[role]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	set[perm] = struct{}{}
	return nil
}

// Revoke removes a permission from a role at runtime.
func (e *Engine) Revoke(role Role, perm Permission) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.rolePerms[role]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	delete(set, perm)
	return nil
}

// RolePermissions returns a copy of the current permission set for a role.
func (e *Engine) RolePermissions(role Role) ([]Permission, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set, ok := e.rolePerms[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	perms := make([]Permission, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	return perms, nil
}
