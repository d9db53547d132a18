package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"intake.org/internal/allocation"
	"intake.org/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a staff member (uses $INTAKE_AUTH_SECRET)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ok := allocation.ParseRole(role)
			if !ok {
				return errors.New("unknown --role")
			}
			token, err := auth.GenerateToken(userID, string(r), ttl)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"token":      token,
				"user_id":    userID,
				"role":       r,
				"expires_at": time.Now().UTC().Add(ttl).Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id (required)")
	cmd.Flags().StringVar(&role, "role", "", "Role carried by the token (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
