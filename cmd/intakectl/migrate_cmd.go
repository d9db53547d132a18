package main

import (
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"intake.org/internal/migrate"
	"intake.org/ops/migrations"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or seed the database schema",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Read sql/ and seeds/ from this directory instead of the embedded copy")

	run := func(action func(cmd *cobra.Command, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := root.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var fsys fs.FS = migrations.FS
			if dir != "" {
				fsys = os.DirFS(dir)
			}
			return action(cmd, migrate.NewManager(store.DB(), fsys, migrations.SQLDir, migrations.SeedsDir))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				return m.Up(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				return m.Down(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply seed files that have not run yet",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				return m.Seed(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations in order",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				entries, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				for _, e := range entries {
					if e.Applied {
						fmt.Fprintf(cmd.OutOrStdout(), "applied  %s  %s\n", e.AppliedAt.UTC().Format(time.RFC3339), e.Name)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "pending  %-20s  %s\n", "", e.Name)
				}
				return nil
			}),
		},
	)
	return cmd
}
