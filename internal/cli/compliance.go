package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Compliance validation commands",
}

var complianceReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run every requirement and print a compliance report",
	RunE: func(cmd *cobra.Command, args []string) error {
		requirementsFile, _ := cmd.Flags().GetString("requirements")

		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		if requirementsFile != "" {
			if err := m.Compliance.LoadRequirementsFile(requirementsFile); err != nil {
				return fmt.Errorf("failed to load requirements: %w", err)
			}
		}

		report, err := m.Compliance.GenerateReport(cmd.Context())
		if err != nil {
			return fmt.Errorf("report generation failed: %w", err)
		}

		if jsonOutput(cmd) {
			return printJSON(report)
		}
		fmt.Printf("Compliance score: %.1f%% (%d/%d passed)\n\n", report.Score, report.Passed, report.Total)
		t := newTable("CATEGORY", "PASSED", "FAILED")
		for category, stats := range report.ByCategory {
			t.addRow(category, fmt.Sprintf("%d", stats.Passed), fmt.Sprintf("%d", stats.Failed))
		}
		t.render()
		if len(report.Violations) > 0 {
			fmt.Println()
			for _, v := range report.Violations {
				warnf("[%s] %s: %s", v.Severity, v.RequirementID, v.Evidence)
			}
		}
		return nil
	},
}

var complianceCheckCmd = &cobra.Command{
	Use:   "check [requirement-id]",
	Short: "Validate a single requirement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		result, err := m.Compliance.ValidateRequirement(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		if jsonOutput(cmd) {
			return printJSON(result)
		}
		if result.Compliant {
			successf("%s compliant: %s", args[0], result.Evidence)
		} else {
			warnf("%s NOT compliant: %s", args[0], result.Evidence)
		}
		return nil
	},
}

func init() {
	complianceReportCmd.Flags().String("requirements", "", "YAML file replacing the built-in requirement set")

	complianceCmd.AddCommand(complianceReportCmd, complianceCheckCmd)
	rootCmd.AddCommand(complianceCmd)
}
