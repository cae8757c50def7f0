package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Authenticate and print an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")

		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		sc, token, err := m.Login(cmd.Context(), args[0], password, "cli")
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		if jsonOutput(cmd) {
			return printJSON(map[string]any{"session": sc, "token": token})
		}
		successf("Logged in as %s (roles: %s)", sc.Username, strings.Join(sc.Roles, ", "))
		fmt.Println(token)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Access token commands",
}

var tokenValidateCmd = &cobra.Command{
	Use:   "validate [token]",
	Short: "Validate an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		claims, err := m.Auth.ValidateToken(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("token invalid: %w", err)
		}

		if jsonOutput(cmd) {
			return printJSON(claims)
		}
		successf("Token valid")
		fmt.Printf("  Subject:  %s\n", claims.Subject)
		fmt.Printf("  Username: %s\n", claims.Username)
		fmt.Printf("  Roles:    %s\n", strings.Join(claims.Roles, ", "))
		fmt.Printf("  Token ID: %s\n", claims.ID)
		fmt.Printf("  Expires:  %s\n", claims.ExpiresAt.Time)
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke [token-id]",
	Short: "Revoke an access token by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		m.Auth.RevokeToken(cmd.Context(), args[0])
		successf("Token %s revoked", args[0])
		return nil
	},
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey [create|revoke] [username] [name]",
	Short: "Manage a principal's API keys",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		ctx := cmd.Context()
		switch args[0] {
		case "create":
			key, err := m.Auth.CreateAPIKey(ctx, args[1], args[2])
			if err != nil {
				return fmt.Errorf("failed to create API key: %w", err)
			}
			successf("API key %s created (shown once, store it now)", args[2])
			fmt.Println(key)
		case "revoke":
			if err := m.Auth.RevokeAPIKey(ctx, args[1], args[2]); err != nil {
				return fmt.Errorf("failed to revoke API key: %w", err)
			}
			successf("API key %s revoked", args[2])
		default:
			return fmt.Errorf("unknown action %q, want create or revoke", args[0])
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().String("password", "", "password")

	tokenCmd.AddCommand(tokenValidateCmd, tokenRevokeCmd)
	rootCmd.AddCommand(loginCmd, tokenCmd, apikeyCmd)
}
