package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vulnscope-systems/vulnscope-core/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail commands",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the audit trail",
	Long: `Query audit events by time window, type, component or principal.
Records failing checksum verification are excluded and counted as
tampering suspects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		eventType, _ := cmd.Flags().GetString("type")
		component, _ := cmd.Flags().GetString("component")
		principal, _ := cmd.Flags().GetString("principal")
		level, _ := cmd.Flags().GetString("level")

		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		filter := audit.Filter{
			Type:        eventType,
			Component:   component,
			PrincipalID: principal,
			Level:       audit.Level(level),
		}
		if since > 0 {
			filter.Start = time.Now().Add(-since)
		}

		events, err := m.Audit.Query(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		if jsonOutput(cmd) {
			return printJSON(events)
		}
		t := newTable("TIME", "TYPE", "COMPONENT", "LEVEL", "PRINCIPAL", "OK")
		for _, e := range events {
			t.addRow(e.Timestamp.Format(time.RFC3339), e.Type, e.Component,
				string(e.Level), e.PrincipalID, fmt.Sprintf("%v", e.Success))
		}
		t.render()
		fmt.Printf("\n%d events\n", len(events))
		return nil
	},
}

var auditCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove audit files past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		removed, err := m.Audit.CleanOldLogs(cmd.Context())
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		successf("%d expired audit files removed", removed)
		return nil
	},
}

func init() {
	auditQueryCmd.Flags().Duration("since", 0, "only events newer than this (e.g. 24h)")
	auditQueryCmd.Flags().String("type", "", "filter by event type")
	auditQueryCmd.Flags().String("component", "", "filter by component")
	auditQueryCmd.Flags().String("principal", "", "filter by principal id")
	auditQueryCmd.Flags().String("level", "", "filter by level: debug, info, warning, error, critical")

	auditCmd.AddCommand(auditQueryCmd, auditCleanCmd)
	rootCmd.AddCommand(auditCmd)
}
