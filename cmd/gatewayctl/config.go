package main

import (
	"fmt"

	"github.com/aixgo-dev/gateway/pkg/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with gateway config files",
	}

	var normalize bool
	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Load a config file, apply defaults, and check it's internally consistent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid: %w", err)
			}
			fmt.Printf("%s: valid\n", path)

			if normalize {
				if err := config.Save(cfg, path); err != nil {
					return fmt.Errorf("save: %w", err)
				}
				fmt.Printf("%s: rewritten with defaults applied\n", path)
			}
			return nil
		},
	}
	validateCmd.Flags().BoolVar(&normalize, "write", false, "rewrite the file with applied defaults")
	cmd.AddCommand(validateCmd)

	return cmd
}
