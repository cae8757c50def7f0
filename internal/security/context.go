package security

import (
	"context"
	"time"

	"github.com/vulnscope-systems/vulnscope-core/internal/logging"
)

// SecurityContext identifies an authenticated principal for the
// lifetime of a session. It is immutable once issued; Logout removes it
// from the session index.
type SecurityContext struct {
	SessionID   string    `json:"session_id"`
	PrincipalID string    `json:"principal_id"`
	Username    string    `json:"username"`
	Roles       []string  `json:"roles"`
	Source      string    `json:"source"`
	TokenID     string    `json:"token_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasRole reports whether the principal carries the given role.
func (sc *SecurityContext) HasRole(role string) bool {
	for _, r := range sc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type securityContextKey struct{}

// Bind attaches the security context to ctx, along with the session id
// and principal name the logging layer folds into every record.
func (sc *SecurityContext) Bind(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, securityContextKey{}, sc)
	ctx = logging.WithSessionID(ctx, sc.SessionID)
	ctx = logging.WithPrincipal(ctx, sc.Username)
	return ctx
}

// FromContext returns the security context bound to ctx, or nil.
func FromContext(ctx context.Context) *SecurityContext {
	sc, _ := ctx.Value(securityContextKey{}).(*SecurityContext)
	return sc
}
