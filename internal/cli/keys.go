package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulnscope-systems/vulnscope-core/internal/crypto"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Encryption key commands",
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate [classification]",
	Short: "Rotate the active key for a classification tier",
	Long: `Rotate the active encryption key for one classification tier
(internal, confidential or restricted). Data encrypted under the old
key remains readable; new writes use the new key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		class := crypto.Classification(args[0])
		newID, err := m.Crypto.RotateKey(class)
		if err != nil {
			return fmt.Errorf("rotation failed: %w", err)
		}
		successf("Key for %s rotated, active key is now %s", class, newID)
		return nil
	},
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Verify the security baseline of this installation",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		warnings := m.VerifyBaseline(cmd.Context())
		if jsonOutput(cmd) {
			return printJSON(map[string]any{"findings": warnings})
		}
		if len(warnings) == 0 {
			successf("Baseline verified, no findings")
			return nil
		}
		for _, w := range warnings {
			warnf("%s", w)
		}
		fmt.Printf("\n%d findings\n", len(warnings))
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysRotateCmd)
	rootCmd.AddCommand(keysCmd, baselineCmd)
}
