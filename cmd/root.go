package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sector-scout/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sector-scout",
	Short: "AI-driven stock sector research pipeline",
	Long:  "Researches a market sector into sub-sectors and candidate stocks, ranks them, runs judge-reviewed deep analysis on the top picks and formats investor-ready insights.",
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
