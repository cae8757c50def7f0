package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vulnscope-systems/vulnscope-core/internal/sandbox"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Sandboxed execution commands",
}

var sandboxExecCmd = &cobra.Command{
	Use:   "exec [flags] -- command [args...]",
	Short: "Execute a command in an isolation sandbox",
	Long: `Execute a command inside a freshly created sandbox and print its
result. The sandbox is destroyed afterwards regardless of outcome.

Examples:
  vulnscope sandbox exec -- nmap -sV 10.0.0.5
  vulnscope sandbox exec --isolation container --timeout 2m -- ./scan.sh
  vulnscope sandbox exec --file payload.py -- python3 payload.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		isolation, _ := cmd.Flags().GetString("isolation")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		files, _ := cmd.Flags().GetStringSlice("file")

		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		sb, err := m.Sandbox.Create(cmd.Context(), sandbox.IsolationLevel(isolation), nil, "cli")
		if err != nil {
			return fmt.Errorf("failed to create sandbox: %w", err)
		}
		defer sb.Cleanup()

		for _, path := range files {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if err := sb.AddFile(path, content); err != nil {
				return fmt.Errorf("failed to stage %s: %w", path, err)
			}
		}

		res, err := sb.ExecuteCommand(cmd.Context(), args, timeout)
		if err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}

		if jsonOutput(cmd) {
			return printJSON(res)
		}
		if res.Success {
			successf("Command completed in %s (exit %d)", res.ExecutionTime.Round(time.Millisecond), res.ReturnCode)
		} else {
			warnf("Command failed: exit %d, limits exceeded: %v, %s", res.ReturnCode, res.ResourceLimitsExceeded, res.Error)
		}
		if res.Stdout != "" {
			fmt.Print(res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
		}
		return nil
	},
}

func init() {
	sandboxExecCmd.Flags().String("isolation", "", "isolation level: basic, container (default from config)")
	sandboxExecCmd.Flags().Duration("timeout", 0, "wall-time ceiling (default from config)")
	sandboxExecCmd.Flags().StringSlice("file", nil, "files to stage into the sandbox before execution")

	sandboxCmd.AddCommand(sandboxExecCmd)
	rootCmd.AddCommand(sandboxCmd)
}
