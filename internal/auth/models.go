package auth

import "time"

// Credential is the stored record for one principal. Hash and salt are
// always written together; the lockout expiry is set only when the
// failed-attempt counter crosses the configured maximum and cleared on
// success or expiry.
type Credential struct {
	ID             string            `json:"id"`
	Username       string            `json:"username"`
	PasswordHash   string            `json:"password_hash"`
	Salt           string            `json:"salt"`
	Roles          []string          `json:"roles"`
	APIKeys        map[string]string `json:"api_keys,omitempty"`
	LastLogin      *time.Time        `json:"last_login,omitempty"`
	FailedAttempts int               `json:"failed_attempts"`
	LockedUntil    *time.Time        `json:"locked_until,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Locked reports whether the account is currently locked out.
func (c *Credential) Locked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// clone returns a deep copy so repository callers never share mutable
// state with the store.
func (c *Credential) clone() *Credential {
	out := *c
	out.Roles = append([]string(nil), c.Roles...)
	if c.APIKeys != nil {
		out.APIKeys = make(map[string]string, len(c.APIKeys))
		for k, v := range c.APIKeys {
			out.APIKeys[k] = v
		}
	}
	if c.LastLogin != nil {
		t := *c.LastLogin
		out.LastLogin = &t
	}
	if c.LockedUntil != nil {
		t := *c.LockedUntil
		out.LockedUntil = &t
	}
	return &out
}
