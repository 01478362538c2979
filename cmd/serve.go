package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/internal/observability"
	"github.com/ode0x/solaudit/internal/service"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audit HTTP API",
		Long: `Starts the JSON API: POST /api/audit audits raw Solidity source,
POST /api/audit/fetch audits a deployed address and GET /health reports
liveness. The server drains in-flight requests on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := service.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			server, err := service.NewServer(cfg, logger, components.Auditor, components.Fetcher)
			if err != nil {
				return err
			}

			logger.Info("Serving audit API", zap.String("addr", cfg.Server.Addr))
			return server.Run(ctx)
		},
	}

	serveCmd.Flags().String("addr", "", "Listen address, e.g. ':8036'. (Overrides config/env)")

	return serveCmd
}
