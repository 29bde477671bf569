package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/config"
)

var cfg *config.Config

// siteID is the tenant selected with --site-id on single-tenant commands.
var siteID string

var rootCmd = &cobra.Command{
	Use:   "serp-monitor",
	Short: "Multi-tenant search ranking monitor",
	Long:  "Periodically searches configured query terms, stores the ranked results per tenant, detects position changes, and serves analytics and exports over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
