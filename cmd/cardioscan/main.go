package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardioscan/backend/internal/app"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cardioscan",
		Short: "CardioScan operator tools",
		Long: `cardioscan runs the ECG analysis pipeline and maintains the scan
history store from the command line.

It reads the same configuration as the API server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./config.yaml, ./config/config.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newBackupCmd(),
		newReportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the shared components. The caller
// must Close the returned components.
func setup(cmd *cobra.Command) (*app.Components, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// stdout carries command output.
	output := cfg.Logging.OutputPath
	if output == "" || output == "stdout" {
		output = "stderr"
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, output); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	components, err := app.Build(context.Background(), cfg)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	return components, nil
}

func teardown(c *app.Components) {
	if err := c.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close storage: %v\n", err)
	}
	logger.Sync()
}
