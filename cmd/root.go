// File: cmd/root.go

// Package cmd wires the n2p command tree: configuration loading, logger
// initialization, and the run, categories and version commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/internal/config"
	"github.com/wyatt727/BSTI/internal/observability"
)

// contextKey scopes context values owned by this package.
type contextKey string

// configKey carries the validated *config.Config from the root command's
// PersistentPreRunE to the subcommand RunE functions.
const configKey contextKey = "config"

// flagKeys maps command-line flag names to their configuration keys. Binding
// happens in the root's PersistentPreRunE, which receives the invoked
// command, so each command binds exactly the flags it declares and a flag
// given on the command line overrides both the config file and environment.
var flagKeys = map[string]string{
	"client-id":      "platform.client_id",
	"report-id":      "platform.report_id",
	"concurrency":    "uploader.concurrency",
	"category-map":   "pipeline.category_map",
	"severity-floor": "pipeline.severity_floor",
	"non-core":       "pipeline.non_core",
	"screenshot-dir": "pipeline.screenshot_dir",
	"refresh-remote": "pipeline.refresh_remote",
}

// NewRootCommand builds a pristine command tree. Every invocation gets its
// own viper instance, so repeated executions in one process never leak flag
// or config state into each other.
func NewRootCommand() *cobra.Command {
	var cfgFile string
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "n2p",
		Short: "n2p consolidates scan findings into flaws and uploads them to the reporting platform",
		Long: `n2p loads scanner export files, merges related findings into consolidated
flaws by category, and uploads the result to the reporting platform. An
upload ledger keeps re-runs idempotent: unchanged flaws are skipped, changed
ones are updated in place.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}
			if err := bindCommandFlags(v, cmd); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				// A fallback logger so the config failure itself is visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "n2p"})
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default searches . and ~/.n2p)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCategoriesCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree under the signal-aware context from main.
func Execute(ctx context.Context) error {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command failed.", zap.Error(err))
		return err
	}
	return nil
}

// initializeConfig points viper at the config file and the N2P_* environment.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".n2p"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("N2P")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file found; defaults and environment carry the run.
	}
	return nil
}

// bindCommandFlags binds the invoked command's flags onto their viper keys.
func bindCommandFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

// configFromCommand returns the config placed on the command context by the
// root's PersistentPreRunE.
func configFromCommand(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration missing from command context")
	}
	return cfg, nil
}
