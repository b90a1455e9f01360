package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/filing-analyzer/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "filing-analyzer",
	Short: "Annual report risk analysis service",
	Long:  "Ingests annual report PDFs, extracts and locates risk factor sections, scores year-over-year risk evolution via an LLM, and serves the results plus market indicator tooling over HTTP.",
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
