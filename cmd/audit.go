package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
	"github.com/ode0x/solaudit/internal/engine"
	"github.com/ode0x/solaudit/internal/observability"
	"github.com/ode0x/solaudit/internal/report"
	"github.com/ode0x/solaudit/internal/service"
	"github.com/ode0x/solaudit/internal/ui"
)

// newAuditCmd creates and configures the `audit` command.
func newAuditCmd() *cobra.Command {
	var (
		address    string
		outputPath string
	)

	auditCmd := &cobra.Command{
		Use:   "audit [path]",
		Short: "Audit Solidity source from a file, a directory or a deployed address",
		Long: `Runs every registered vulnerability detector over the given source and
prints a summary of the findings. A directory is audited file by file
through a worker pool; --address fetches verified source from a block
explorer first. With --output the full report is also written in the
configured format.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			if len(args) == 0 && address == "" {
				return fmt.Errorf("nothing to audit: pass a source path or --address")
			}
			if len(args) > 0 && address != "" {
				return fmt.Errorf("pass either a source path or --address, not both")
			}

			components, err := service.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			if address != "" {
				return runAddressAudit(ctx, cfg, components, logger, address, outputPath)
			}
			return runPathAudit(ctx, cfg, components, logger, args[0], outputPath)
		},
	}

	auditCmd.Flags().StringVar(&address, "address", "", "Deployed contract address to fetch and audit instead of a local path.")
	auditCmd.Flags().String("network", "", "Network the address lives on, e.g. 'ethereum' or 'sepolia'. (Overrides config/env)")
	auditCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report file path ('stdout' writes to standard output). If unset, no report file is generated.")
	auditCmd.Flags().StringP("format", "f", "", fmt.Sprintf("Report format: one of %s. (Overrides config/env)", strings.Join(report.Formats(), ", ")))
	auditCmd.Flags().Bool("save", false, "Persist the report to the audit store; requires store.url. (Overrides config/env)")
	auditCmd.Flags().IntP("workers", "j", 0, "Concurrent workers for directory audits. (Overrides config/env)")

	return auditCmd
}

// runPathAudit audits one .sol file, or every .sol file under a
// directory through the batch engine.
func runPathAudit(ctx context.Context, cfg *config.Config, components *service.Components, logger *zap.Logger, path, outputPath string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to access %s: %w", path, err)
	}

	if info.IsDir() {
		return runBatchAudit(ctx, cfg, components, logger, path, outputPath)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	meta := schemas.ContractMeta{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}

	spinner := ui.StartSpinner(fmt.Sprintf("Auditing %s", filepath.Base(path)))
	audited, err := components.Auditor.Audit(ctx, string(source), meta)
	if err != nil {
		spinner.Fail("Audit failed")
		return err
	}
	spinner.Success(fmt.Sprintf("Audit complete in %s", audited.Duration.Round(time.Millisecond)))

	ui.PrintReport(audited)

	if outputPath != "" {
		return writeReportFile(logger, audited, cfg.Report.Format, outputPath)
	}
	return nil
}

// runBatchAudit fans a directory of sources out to the batch engine and
// renders the aggregate outcome.
func runBatchAudit(ctx context.Context, cfg *config.Config, components *service.Components, logger *zap.Logger, root, outputPath string) error {
	batchEngine, err := engine.New(cfg, logger, components.Auditor)
	if err != nil {
		return err
	}

	batch, err := batchEngine.Run(ctx, root)
	if err != nil {
		return err
	}

	ui.PrintBatch(batch)

	if outputPath != "" {
		if err := writeBatchReports(logger, batch, cfg.Report.Format, outputPath); err != nil {
			return err
		}
	}

	if batch.Cancelled {
		return ctx.Err()
	}
	return nil
}

// runAddressAudit fetches verified source from the configured explorer
// gateway and audits it.
func runAddressAudit(ctx context.Context, cfg *config.Config, components *service.Components, logger *zap.Logger, address, outputPath string) error {
	if components.Fetcher == nil {
		return fmt.Errorf("source fetching is not configured")
	}

	spinner := ui.StartSpinner(fmt.Sprintf("Fetching %s on %s", address, cfg.Fetch.Network))
	src, err := components.Fetcher.FetchSource(ctx, address, cfg.Fetch.Network)
	if err != nil {
		spinner.Fail("Fetch failed")
		return fmt.Errorf("failed to fetch contract source: %w", err)
	}
	spinner.UpdateText(fmt.Sprintf("Auditing %s", src.Name))

	audited, err := components.Auditor.Audit(ctx, src.Source, src.Meta())
	if err != nil {
		spinner.Fail("Audit failed")
		return err
	}
	spinner.Success(fmt.Sprintf("Audit complete in %s", audited.Duration.Round(time.Millisecond)))

	ui.PrintReport(audited)

	if outputPath != "" {
		return writeReportFile(logger, audited, cfg.Report.Format, outputPath)
	}
	return nil
}

// writeReportFile renders one report to outputPath in the given format.
func writeReportFile(logger *zap.Logger, audited *schemas.AuditReport, format, outputPath string) error {
	reporter, err := report.New(format, outputPath, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("Failed to close reporter cleanly", zap.Error(err))
		}
	}()

	if err := reporter.Write(audited); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	logger.Info("Report written",
		zap.String("path", outputPath),
		zap.String("format", format))
	return nil
}

// writeBatchReports renders every completed report of a batch into a
// single output.
func writeBatchReports(logger *zap.Logger, batch *engine.BatchResult, format, outputPath string) error {
	reporter, err := report.New(format, outputPath, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("Failed to close reporter cleanly", zap.Error(err))
		}
	}()

	for _, res := range batch.Results {
		if res.Err != nil || res.Report == nil {
			continue
		}
		if err := reporter.Write(res.Report); err != nil {
			return fmt.Errorf("failed to write report for %s: %w", res.Path, err)
		}
	}

	logger.Info("Batch report written",
		zap.String("path", outputPath),
		zap.Int("reports", batch.Completed))
	return nil
}
