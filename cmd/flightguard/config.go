package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"flightguard/internal/config"
	"flightguard/internal/model"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or print configuration",
	}
	cmd.AddCommand(configCheckCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	var printEffective bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and optionally print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configPath != "" {
				loaded, err := config.Load(config.ResolvePath(configPath))
				if err != nil {
					var cerr *model.ConfigError
					if errors.As(err, &cerr) {
						return fmt.Errorf("invalid %s: %s", cerr.Field, cerr.Reason)
					}
					return err
				}
				cfg = loaded
			}
			if printEffective {
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&printEffective, "print", false, "Print the effective config as YAML")
	return cmd
}
