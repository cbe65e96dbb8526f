package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sales-agent",
	Short: "Adaptive lead scoring and phase orchestration",
	Long:  "Scores leads against a versioned ICP profile, qualifies them through a configurable framework, drives them through the pipeline state machine, and feeds deal outcomes back into profile weights.",
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
