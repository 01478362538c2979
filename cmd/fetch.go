package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/internal/fetch"
	"github.com/ode0x/solaudit/internal/observability"
)

// newFetchCmd creates and configures the `fetch` command.
func newFetchCmd() *cobra.Command {
	var outputPath string

	fetchCmd := &cobra.Command{
		Use:   "fetch <address>",
		Short: "Fetch verified contract source from a block explorer",
		Long: `Looks the address up on the configured explorer gateway and prints the
verified Solidity source, without auditing it. Unverified contracts are
an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			client, err := fetch.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize source fetcher: %w", err)
			}

			src, err := client.FetchSource(ctx, args[0], cfg.Fetch.Network)
			if err != nil {
				return fmt.Errorf("failed to fetch contract source: %w", err)
			}

			if outputPath == "" {
				cmd.Println(src.Source)
				return nil
			}

			if err := os.WriteFile(outputPath, []byte(src.Source), 0644); err != nil {
				return fmt.Errorf("failed to write source to %s: %w", outputPath, err)
			}
			logger.Info("Contract source saved",
				zap.String("contract", src.Name),
				zap.String("network", src.Network),
				zap.String("path", outputPath))
			return nil
		},
	}

	fetchCmd.Flags().String("network", "", "Network the address lives on, e.g. 'ethereum' or 'sepolia'. (Overrides config/env)")
	fetchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the source to a file instead of stdout.")

	return fetchCmd
}
