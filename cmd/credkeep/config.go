// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/credkeep/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file, CREDKEEP_*
variables and flags are applied. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := printConfig(cmd, cfg); err != nil {
				return err
			}
			if validate {
				if err := cfg.Validate(); err != nil {
					return err
				}
				cmd.PrintErrln("configuration is valid")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "also check the configuration and fail if it is invalid")
	return cmd
}

func printConfig(cmd *cobra.Command, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return oops.Code("CONFIG_FORMAT_FAILED").Wrap(err)
	}
	cmd.Print(string(data))
	return nil
}
