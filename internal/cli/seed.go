package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulnscope-systems/vulnscope-core/internal/seeder"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo principals for development",
	Long: `Create demo principals with generated usernames and passwords.
Intended for development and evaluation installations only; every
seeded account passes through the normal creation and audit path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		password, _ := cmd.Flags().GetString("password")
		seed, _ := cmd.Flags().GetInt64("seed")

		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		seeded, err := seeder.Run(cmd.Context(), m.Auth, seeder.Options{
			Users:    count,
			Password: password,
			Seed:     seed,
		})
		if err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}

		if jsonOutput(cmd) {
			return printJSON(seeded)
		}
		successf("%d principals seeded", len(seeded))
		t := newTable("USERNAME", "PASSWORD", "ROLES")
		for _, u := range seeded {
			t.addRow(u.Username, u.Password, fmt.Sprintf("%v", u.Roles))
		}
		t.render()
		return nil
	},
}

func init() {
	seedCmd.Flags().Int("count", 10, "number of principals to create")
	seedCmd.Flags().String("password", "", "shared password (random per user when empty)")
	seedCmd.Flags().Int64("seed", 0, "random seed for reproducible runs")

	rootCmd.AddCommand(seedCmd)
}
