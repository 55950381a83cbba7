package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sweepCmd(flags *globalFlags) *cobra.Command {
	var pollOnly bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation cycle and exit",
		Long: `Poll pending charges once and, unless --poll-only is set, expire stale
orders, detach orphaned sessions and release expired silence leases.

Examples:
  redeemd sweep --store bolt --bolt-path redeem.db
  redeemd sweep --poll-only`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, err := loadConfig(flags, cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(flags.logLevel)

			eng, err := newEngine(fc.Redeem, logger)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Stop() }()

			ctx := cmd.Context()
			stats := eng.RunCycle(ctx, !pollOnly)

			fmt.Fprintf(cmd.OutOrStdout(),
				"polled=%d settled=%d rejected=%d expired=%d errors=%d elapsed=%s\n",
				stats.Polled, stats.Settled, stats.Rejected, stats.Expired, stats.Errors, stats.Elapsed,
			)
			if stats.Errors > 0 {
				return fmt.Errorf("sweep finished with %d errors", stats.Errors)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pollOnly, "poll-only", false, "skip the expiry sweep")
	return cmd
}
