package main

import (
	"github.com/spf13/cobra"

	"intake.org/internal/allocation"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect allocation policy files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a policy file and print its decision table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := allocation.LoadPolicy(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), decisionTable(p))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the built-in decision table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), decisionTable(allocation.DefaultPolicy()))
		},
	})
	return cmd
}

type decisionRow struct {
	Role     allocation.Role     `json:"role"`
	CaseType allocation.CaseType `json:"case_type"`
	Action   allocation.Action   `json:"action"`
	Eligible []allocation.Role   `json:"eligible"`
}

func decisionTable(p allocation.Policy) map[string]any {
	rows := make([]decisionRow, 0, len(allocation.AllRoles())*len(allocation.AllCaseTypes()))
	for _, role := range allocation.AllRoles() {
		for _, t := range allocation.AllCaseTypes() {
			rows = append(rows, decisionRow{
				Role:     role,
				CaseType: t,
				Action:   p.Decide(role, t).Action,
				Eligible: p.EligibleRoles(t),
			})
		}
	}
	return map[string]any{"version": p.Version, "decisions": rows}
}
