package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardioscan/backend/internal/report"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <email>",
		Short: "Render a user's history, or one scan, as an HTML report",
		Long: `Render an HTML report from stored history.

Without --scan every record of the user is included, one per page.

Examples:
  cardioscan report jane@example.com
  cardioscan report jane@example.com --scan scan_0c1d... --out jane.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scanID, _ := cmd.Flags().GetString("scan")
			outputPath, _ := cmd.Flags().GetString("out")

			c, err := setup(cmd)
			if err != nil {
				return err
			}
			defer teardown(c)

			ctx := context.Background()
			now := time.Now()

			user, err := c.History.GetUser(ctx, args[0])
			if err != nil {
				return err
			}

			var (
				out  []byte
				name string
			)
			if scanID != "" {
				rec, err := c.History.Get(ctx, user.Email, scanID)
				if err != nil {
					return err
				}
				out, err = report.RenderSingle(*rec)
				if err != nil {
					return err
				}
				name = report.SingleFilename(*rec, now)
			} else {
				records, err := c.History.History(ctx, user.Email)
				if err != nil {
					return err
				}
				out, err = report.RenderBatch(records, user.Name)
				if err != nil {
					return err
				}
				name = report.BatchFilename(user.Name, now)
			}

			if outputPath == "" {
				outputPath = name
			}
			if outputPath == "-" {
				_, err = os.Stdout.Write(out)
				return err
			}
			if err := os.WriteFile(outputPath, out, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputPath, err)
			}
			fmt.Printf("Report written to %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().String("scan", "", "Render only this scan")
	cmd.Flags().String("out", "", "Output file, or - for stdout (default: generated name)")
	return cmd
}
