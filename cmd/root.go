// Package cmd wires the solaudit command-line interface: configuration
// loading, logger initialization and the audit, fetch, report, serve and
// version subcommands.
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/internal/config"
	"github.com/ode0x/solaudit/internal/observability"
)

// contextKey scopes values this package stores on the command context.
type contextKey string

// configKey is the context key under which PersistentPreRunE stores the
// resolved configuration for subcommands.
const configKey contextKey = "config"

// Execute builds a fresh root command and runs it with the given
// signal-aware context.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand assembles the CLI. Every call returns a new command
// tree so flag state never leaks between invocations.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "solaudit",
		Short: "solaudit is a static security auditor for Solidity smart contracts.",
		Long: `solaudit runs five vulnerability detectors over Solidity source code,
correlates their findings through a deterministic reasoning stage and
renders the result as a terminal summary or a markdown, JSON, SARIF or
JUnit report.`,
		// Version is set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before every subcommand: layer the configuration
			// sources, then bring up the global logger.
			v := viper.New()
			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				// Fall back to a basic logger so the failure is still reported.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "solaudit"})
				return fmt.Errorf("failed to load config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting solaudit", zap.String("version", Version))

			// Subcommands pick the validated config back up via
			// getConfigFromContext.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newReportCmd(defaultStoreProvider{}))
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// getConfigFromContext retrieves the configuration stored by the root
// command's PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration missing from command context")
	}
	return cfg, nil
}

// flagBindings maps flag names to the configuration keys they override.
// A subcommand flag named here participates in viper's precedence order:
// an explicit flag beats environment variables and the config file.
var flagBindings = map[string]string{
	"workers": "engine.worker_concurrency",
	"network": "fetch.network",
	"format":  "report.format",
	"save":    "store.enabled",
	"addr":    "server.addr",
}

// initializeConfig reads in the config file and SOLAUDIT_* environment
// variables, then binds the invoked command's override flags.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".solaudit"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SOLAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}

	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}
	return nil
}
