package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxbill-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "taxbill-cli",
	Short: "Resilient property tax bill extraction",
	Long:  "Fetches current property tax amounts from county web portals in batches, with per-source rate limiting, circuit breaking, and resumable checkpointed runs.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
