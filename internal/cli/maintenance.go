package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one cleanup pass against the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeCache, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			report := c.RunCleanup(cmd.Context())
			if err := closeCache(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeCache, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			stats := c.Statistics(cmd.Context())
			if err := closeCache(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
