package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/credkeep/internal/config"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the credkeep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credkeep",
		Short: "credkeep - account credentials and sessions",
		Long: `credkeep registers accounts, issues session tokens and runs the
password reset flow over a JSON HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML; default: $XDG_CONFIG_HOME/credkeep/config.yaml if present)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPurgeCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadDotEnv reads envFile into the process environment. Variables already
// set win; a missing file is not an error.
func loadDotEnv() error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.Code("CONFIG_LOAD_FAILED").With("layer", "dotenv").With("path", envFile).Wrap(err)
	}
	return nil
}

// loadConfig builds the configuration for cmd from every layer.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return config.Load(config.ResolvePath(configFile), cmd.Flags())
}

// loadDatabaseURL returns database.url or a CONFIG_INVALID error.
func loadDatabaseURL(cmd *cobra.Command) (string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").With("key", "database.url").
			Errorf("database.url is required (set CREDKEEP_DATABASE__URL or --database-url)")
	}
	return cfg.Database.URL, nil
}
