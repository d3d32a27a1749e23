package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardioscan/backend/internal/history"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or import the full user and history store",
	}
	cmd.AddCommand(newBackupExportCmd(), newBackupImportCmd())
	return cmd
}

func newBackupExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all users and histories to a JSON file",
		Long: `Export every user and scan history to a JSON backup file.

Default file name: cardioscan_backup_YYYYMMDD-HHMMSS.json in the current directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outputPath, _ := cmd.Flags().GetString("output")
			if outputPath == "" {
				outputPath = history.BackupFilename(time.Now())
			}

			c, err := setup(cmd)
			if err != nil {
				return err
			}
			defer teardown(c)

			backup, err := c.History.ExportAll(context.Background())
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			data, err := history.MarshalBackup(backup)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			if err := os.WriteFile(outputPath, data, 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputPath, err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"path":      outputPath,
					"users":     len(backup.Users),
					"histories": len(backup.Histories),
				})
			}
			fmt.Printf("Backup created: %d users, %d histories\n", len(backup.Users), len(backup.Histories))
			fmt.Printf("  Path: %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().String("output", "", "Output file path")
	return cmd
}

func newBackupImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all users and histories with a backup file",
		Long: `Import a JSON backup. Every existing user and history is replaced.

The file is validated before anything is written; --confirm is required.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			confirm, _ := cmd.Flags().GetBool("confirm")
			if !confirm {
				return fmt.Errorf("import replaces all data; re-run with --confirm")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			backup, err := history.DecodeBackup(data)
			if err != nil {
				return err
			}

			c, err := setup(cmd)
			if err != nil {
				return err
			}
			defer teardown(c)

			if err := c.History.ImportAll(context.Background(), data); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"users":     len(backup.Users),
					"histories": len(backup.Histories),
				})
			}
			fmt.Printf("Backup imported: %d users, %d histories\n", len(backup.Users), len(backup.Histories))
			return nil
		},
	}

	cmd.Flags().Bool("confirm", false, "Confirm replacing all existing data")
	return cmd
}
