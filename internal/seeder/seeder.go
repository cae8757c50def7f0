// Package seeder populates a fresh installation with demo principals
// and an organization-specific compliance baseline, for development and
// evaluation environments.
package seeder

import (
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/vulnscope-systems/vulnscope-core/internal/auth"
	"github.com/vulnscope-systems/vulnscope-core/internal/authz"
)

// Options controls what gets seeded.
type Options struct {
	// Users is the number of demo principals to create.
	Users int

	// Password, when set, is shared by every seeded principal.
	// Otherwise each principal gets a random one.
	Password string

	// Seed fixes the random source for reproducible runs. Zero means
	// non-deterministic.
	Seed int64
}

// SeededUser records one created principal and its plaintext password,
// which exists nowhere else after the run.
type SeededUser struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

var demoRoles = []string{
	string(authz.RoleUser),
	string(authz.RoleUser),
	string(authz.RoleReadOnly),
}

// Run creates demo principals through the authentication manager, so
// every seeded account goes through the same validation and audit path
// as a real one.
func Run(ctx context.Context, mgr *auth.Manager, opts Options) ([]SeededUser, error) {
	if opts.Users <= 0 {
		opts.Users = 10
	}
	faker := gofakeit.New(opts.Seed)

	seeded := make([]SeededUser, 0, opts.Users)
	for i := 0; i < opts.Users; i++ {
		username := faker.Username()
		if _, err := mgr.GetUser(ctx, username); err == nil {
			continue
		}
		password := opts.Password
		if password == "" {
			password = faker.Password(true, true, true, true, false, 20)
		}
		roles := []string{demoRoles[faker.Number(0, len(demoRoles)-1)]}

		if _, err := mgr.CreateUser(ctx, username, password, roles); err != nil {
			return seeded, fmt.Errorf("failed to seed user %q: %w", username, err)
		}
		seeded = append(seeded, SeededUser{Username: username, Password: password, Roles: roles})
	}
	return seeded, nil
}
