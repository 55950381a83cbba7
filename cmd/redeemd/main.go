// Command redeemd runs the settlement engine as a standalone service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "redeemd",
		Short:         "Order settlement and credit reconciliation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	registerGlobalFlags(cmd.PersistentFlags(), &flags)

	cmd.AddCommand(serveCmd(&flags))
	cmd.AddCommand(sweepCmd(&flags))
	cmd.AddCommand(migrateCmd(&flags))
	cmd.AddCommand(configCmd(&flags))
	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the redeemd version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		},
	}
}
