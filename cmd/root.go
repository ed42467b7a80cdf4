package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zecchin-leonardo/archeo-extract/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "archeo-extract",
	Short: "Ingestion pipeline for archaeological intervention reports",
	Long:  "Fetches scanned excavation reports, converts them through a layout-aware vision service, extracts token-bounded chunks, and builds the dataset used for structured field extraction.",
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
