package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Principal management commands",
	Long:  "Create, inspect and modify principals in the credential store",
}

var userCreateCmd = &cobra.Command{
	Use:   "create [username]",
	Short: "Create a new principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		roles, _ := cmd.Flags().GetStringSlice("roles")

		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		cred, err := m.Auth.CreateUser(cmd.Context(), args[0], password, roles)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		if jsonOutput(cmd) {
			return printJSON(cred)
		}
		successf("User %s created", cred.Username)
		fmt.Printf("  ID:    %s\n", cred.ID)
		fmt.Printf("  Roles: %s\n", strings.Join(cred.Roles, ", "))
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all principals",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		users, err := m.Auth.ListUsers(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		if jsonOutput(cmd) {
			return printJSON(users)
		}
		t := newTable("ID", "USERNAME", "ROLES", "FAILED", "LOCKED")
		for _, u := range users {
			locked := ""
			if u.LockedUntil != nil {
				locked = u.LockedUntil.Format("2006-01-02 15:04:05")
			}
			t.addRow(u.ID, u.Username, strings.Join(u.Roles, ","),
				fmt.Sprintf("%d", u.FailedAttempts), locked)
		}
		t.render()
		return nil
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete [username]",
	Short: "Delete a principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.Auth.DeleteUser(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		successf("User %s deleted", args[0])
		return nil
	},
}

var userResetPasswordCmd = &cobra.Command{
	Use:   "reset-password [username]",
	Short: "Reset a principal's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")

		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.Auth.ResetPassword(cmd.Context(), args[0], password); err != nil {
			return fmt.Errorf("failed to reset password: %w", err)
		}
		successf("Password for %s reset", args[0])
		return nil
	},
}

var userRoleCmd = &cobra.Command{
	Use:   "role [add|remove] [username] [role]",
	Short: "Add or remove a role on a principal",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		ctx := cmd.Context()
		switch args[0] {
		case "add":
			err = m.Auth.AddRole(ctx, args[1], args[2])
		case "remove":
			err = m.Auth.RemoveRole(ctx, args[1], args[2])
		default:
			return fmt.Errorf("unknown action %q, want add or remove", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to update roles: %w", err)
		}
		successf("Roles for %s updated", args[1])
		return nil
	},
}

var adminInitCmd = &cobra.Command{
	Use:   "init-admin",
	Short: "Create the administrator principal if missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")

		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		created, err := m.EnsureAdmin(cmd.Context(), password)
		if err != nil {
			return fmt.Errorf("failed to create administrator: %w", err)
		}
		if created {
			successf("Administrator %s created", cfg.Security.AdminUsername)
		} else {
			fmt.Printf("Administrator %s already exists\n", cfg.Security.AdminUsername)
		}
		return nil
	},
}

func init() {
	userCreateCmd.Flags().String("password", "", "initial password")
	userCreateCmd.Flags().StringSlice("roles", []string{"user"}, "roles to assign")
	userResetPasswordCmd.Flags().String("password", "", "new password")
	adminInitCmd.Flags().String("password", "", "administrator password")

	userCmd.AddCommand(userCreateCmd, userListCmd, userDeleteCmd, userResetPasswordCmd, userRoleCmd)
	rootCmd.AddCommand(userCmd, adminInitCmd)
}
