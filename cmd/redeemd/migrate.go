package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/redeem/extension"
)

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, err := loadConfig(flags, cmd.Flags())
			if err != nil {
				return err
			}

			s, err := extension.OpenStore(fc.Redeem, nil)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			ctx := cmd.Context()
			if err := s.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", fc.Redeem.StoreDriver)
			return nil
		},
	}
}
