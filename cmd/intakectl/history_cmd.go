package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"intake.org/internal/allocation"
	"intake.org/internal/config"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <case-id>",
		Short: "Print the allocation history of a case, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid case id %q", args[0])
			}
			store, err := root.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			engine := allocation.NewEngine(store, allocation.NopNotifier{})
			recs, err := engine.GetAllocationHistory(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		},
	}
}

func newNextCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next <case-type>",
		Short: "Show who rotation would pick next for a case type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := allocation.ParseCaseType(args[0])
			if !ok {
				return fmt.Errorf("unknown case type %q", args[0])
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts, err := cfg.EngineOptions()
			if err != nil {
				return err
			}
			store, err := root.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			engine := allocation.NewEngine(store, allocation.NopNotifier{}, opts...)
			rc, err := engine.PreviewNext(cmd.Context(), t)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"case_type": t,
				"strategy":  engine.Strategy(),
				"receiver":  rc,
			})
		},
	}
}
