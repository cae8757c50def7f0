package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Level is the severity attached to an audit event.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Event type tags. Components outside this package add their own tags;
// these cover the security core's own operations.
const (
	EventLogin               = "login"
	EventLoginFailed         = "login_failed"
	EventLogout              = "logout"
	EventUserCreated         = "user_created"
	EventUserDeleted         = "user_deleted"
	EventPasswordChanged     = "password_changed"
	EventRoleChanged         = "role_changed"
	EventTokenIssued         = "token_issued"
	EventTokenRevoked        = "token_revoked"
	EventTokenValidated      = "token_validated"
	EventPermissionGranted   = "permission_granted"
	EventPermissionDenied    = "permission_denied"
	EventSandboxExecution    = "sandbox_execution"
	EventComplianceViolation = "compliance_violation"
	EventConfigChanged       = "config_changed"
	EventOperation           = "operation"
	EventComponentError      = "component_error"
)

// Event is one tamper-evident audit record. Immutable once written; the
// checksum is recomputed and compared on every read.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	PrincipalID string         `json:"principal_id,omitempty"`
	Component   string         `json:"component"`
	Details     map[string]any `json:"details,omitempty"`
	Level       Level          `json:"level"`
	Timestamp   time.Time      `json:"timestamp"`
	SourceAddr  string         `json:"source_addr,omitempty"`
	Success     bool           `json:"success"`
	ResourceID  string         `json:"resource_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Checksum    string         `json:"checksum,omitempty"`
}

// fill assigns an id and timestamp when the caller left them zero.
func (e *Event) fill() {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
}

// ComputeChecksum returns the SHA-256 hex digest of the event's
// canonical JSON serialization with the checksum field blanked.
// json.Marshal emits struct fields in declaration order and map keys
// sorted, which keeps the serialization canonical.
func (e *Event) ComputeChecksum() (string, error) {
	clone := *e
	clone.Checksum = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum reports whether the embedded checksum matches the
// record's contents.
func (e *Event) VerifyChecksum() bool {
	expected, err := e.ComputeChecksum()
	if err != nil {
		return false
	}
	return expected == e.Checksum
}

func marshalEvent(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
