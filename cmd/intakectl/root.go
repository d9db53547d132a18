package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"intake.org/internal/config"
	"intake.org/internal/store/pg"
)

type rootOptions struct {
	dsn      string
	envFiles []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "intakectl",
		Short:         "Operator tools for the intake allocation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadEnv(opts.envFiles); err != nil {
				return fmt.Errorf("load env files: %w", err)
			}
			if opts.dsn == "" {
				opts.dsn = os.Getenv(config.Prefix + "PG_DSN")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (default $INTAKE_PG_DSN)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env", ".env.local"}, "Env files to load when present")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newNextCmd(opts))
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newPolicyCmd())
	return cmd
}

func (o *rootOptions) openStore() (*pg.Store, error) {
	if o.dsn == "" {
		return nil, fmt.Errorf("missing DSN: provide --dsn or %sPG_DSN", config.Prefix)
	}
	return pg.Open(o.dsn)
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
