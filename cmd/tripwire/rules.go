package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/tripwire/internal/config"
	"github.com/opensource-finance/tripwire/internal/rules"
)

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List builtin rules and whether the current config enables them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSEVERITY\tENABLED\tTITLE")
			for _, r := range rules.Builtin() {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.ID, r.Severity, cfg.Detection.RuleEnabled(r.ID), r.Title)
			}
			return tw.Flush()
		},
	}
}
