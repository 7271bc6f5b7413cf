package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dxcp/dxcp/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(configValidateCommand())
	return cmd
}

func configValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without starting the server",
		Long:  "Loads configuration from file and environment, runs the same structural validation the server runs at startup, and reports the outcome.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Printf("configuration valid: %s/%s (%s)\n", cfg.App.Name, cfg.App.Version, cfg.App.Environment)
			fmt.Printf("  database driver: %s\n", cfg.Database.Driver)
			fmt.Printf("  identity issuer: %s\n", cfg.Identity.Issuer)
			fmt.Printf("  engine endpoint: %s\n", cfg.Engine.Endpoint)
			return nil
		},
	}
}
