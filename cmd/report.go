package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
	"github.com/ode0x/solaudit/internal/observability"
	"github.com/ode0x/solaudit/internal/report"
	"github.com/ode0x/solaudit/internal/store"
	"github.com/ode0x/solaudit/internal/ui"
)

// storeProvider abstracts audit store creation so tests can inject a
// fake instead of a live database connection.
type storeProvider interface {
	// Create returns a ready store plus a cleanup function that releases
	// its resources.
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.Store, func(), error)
}

// defaultStoreProvider connects to the configured PostgreSQL store.
type defaultStoreProvider struct{}

func (defaultStoreProvider) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.Store, func(), error) {
	if cfg.Store.URL == "" {
		return nil, nil, fmt.Errorf("audit store is not configured (set store.url or SOLAUDIT_STORE_URL)")
	}

	dbStore, err := store.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}
	return dbStore, dbStore.Close, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var (
		auditID    string
		outputPath string
		limit      int
	)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "List stored audits or render one from the audit store",
		Long: `Without flags, lists the most recent audits persisted by --save runs.
With --id, loads that audit from the store and renders it again in the
configured format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			if auditID == "" {
				return runListAudits(ctx, logger, cfg, provider, limit)
			}
			return runStoredReport(ctx, logger, cfg, provider, auditID, outputPath)
		},
	}

	reportCmd.Flags().StringVar(&auditID, "id", "", "ID of a stored audit to render. If unset, recent audits are listed.")
	reportCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of audits to list.")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report file path ('stdout' writes to standard output). If unset, the terminal summary is printed.")
	reportCmd.Flags().StringP("format", "f", "", fmt.Sprintf("Report format: one of %s. (Overrides config/env)", strings.Join(report.Formats(), ", ")))

	return reportCmd
}

// runListAudits prints the most recent stored audit records.
func runListAudits(ctx context.Context, logger *zap.Logger, cfg *config.Config, provider storeProvider, limit int) error {
	dbStore, cleanup, err := provider.Create(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	records, err := dbStore.ListAudits(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list audits: %w", err)
	}

	ui.PrintHistory(records)
	return nil
}

// runStoredReport loads one stored audit and renders it.
func runStoredReport(ctx context.Context, logger *zap.Logger, cfg *config.Config, provider storeProvider, auditID, outputPath string) error {
	dbStore, cleanup, err := provider.Create(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	audited, err := dbStore.GetReport(ctx, auditID)
	if err != nil {
		return fmt.Errorf("failed to load audit %s: %w", auditID, err)
	}

	if outputPath == "" {
		ui.PrintReport(audited)
		return nil
	}
	return writeReportFile(logger, audited, cfg.Report.Format, outputPath)
}
