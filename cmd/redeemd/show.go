package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

func configCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		Long: `Print the configuration redeemd would run with after layering the
config file, REDEEM_* environment variables and flags. Secrets are redacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, err := loadConfig(flags, cmd.Flags())
			if err != nil {
				return err
			}
			if fc.Redeem.WebhookSecret != "" {
				fc.Redeem.WebhookSecret = redacted
			}
			if fc.Redeem.AdminToken != "" {
				fc.Redeem.AdminToken = redacted
			}

			out, err := yaml.Marshal(fc)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
