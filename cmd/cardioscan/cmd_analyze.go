package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/ingestion"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/scanner"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/retry"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze an ECG image or PDF",
		Long: `Run one file through ingestion and analysis and print the result.

Transient failures (network, service unavailable) are retried up to
--retries times. With --save the result is appended to that user's history.

Examples:
  cardioscan analyze ecg.png --name "Jane Roe" --id P-1 --age 61 --gender Female
  cardioscan analyze ecg.pdf --name "Jane Roe" --id P-1 --age 61 --gender Female --save jane@example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			retries, _ := cmd.Flags().GetInt("retries")
			saveAs, _ := cmd.Flags().GetString("save")

			patient, err := patientFromFlags(cmd)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			c, err := setup(cmd)
			if err != nil {
				return err
			}
			defer teardown(c)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if saveAs != "" {
				if _, err := c.History.GetUser(ctx, saveAs); err != nil {
					return fmt.Errorf("cannot save to %s: %s", saveAs, scanerr.UserMessage(err))
				}
			}

			preview, err := c.Processor.Ingest(ctx, ingestion.File{
				Name: filepath.Base(args[0]),
				Data: data,
			})
			if err != nil {
				return fmt.Errorf("ingestion failed: %s", scanerr.UserMessage(err))
			}

			examples, err := c.History.CorrectionExamples(ctx, -1)
			if err != nil {
				logger.Warn("Correction examples unavailable", zap.Error(err))
				examples = nil
			}

			cfg := retry.DefaultConfig()
			cfg.MaxAttempts = retries + 1
			cfg.InitialDelay = time.Second
			cfg.Retryable = scanerr.Transient
			cfg.Logger = logger.Named("cli")
			cfg.Name = "analysis"
			cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Attempt %d failed: %s Retrying in %s.\n",
					attempt, scanerr.UserMessage(err), delay.Round(time.Millisecond))
			}

			var result *models.AnalysisResult
			err = retry.Do(ctx, cfg, func() error {
				var aerr error
				result, aerr = c.Analyzer.Analyze(ctx, preview.DataURI, patient, examples)
				return aerr
			})
			if err != nil {
				return fmt.Errorf("analysis failed: %s", scanerr.UserMessage(err))
			}

			record := models.ScanRecord{
				ScanID:         scanner.NewScanID(),
				PatientInfo:    patient,
				AnalysisResult: *result,
				ImageDataURI:   preview.DataURI,
				Timestamp:      time.Now().UTC(),
			}
			if saveAs != "" {
				if err := c.History.Append(ctx, saveAs, record); err != nil {
					return fmt.Errorf("failed to save scan: %w", err)
				}
			}

			if jsonOut {
				record.ImageDataURI = ""
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(record)
			}
			printResult(record, saveAs)
			return nil
		},
	}

	cmd.Flags().String("name", "", "Patient name (required)")
	cmd.Flags().String("id", "", "Patient ID (required)")
	cmd.Flags().String("age", "", "Patient age (required)")
	cmd.Flags().String("gender", "", "Patient gender: Male or Female (required)")
	cmd.Flags().String("symptoms", "", "Presenting symptoms")
	cmd.Flags().Int("retries", 2, "Retries on transient analysis failures")
	cmd.Flags().String("save", "", "Append the result to this user's history")

	return cmd
}

func patientFromFlags(cmd *cobra.Command) (models.PatientContext, error) {
	var p models.PatientContext
	p.Name, _ = cmd.Flags().GetString("name")
	p.ID, _ = cmd.Flags().GetString("id")
	p.Age, _ = cmd.Flags().GetString("age")
	gender, _ := cmd.Flags().GetString("gender")
	p.Gender = models.Gender(gender)
	p.Symptoms, _ = cmd.Flags().GetString("symptoms")

	if !p.Gender.Valid() {
		return p, fmt.Errorf("--gender must be Male or Female")
	}
	if !p.Complete() {
		return p, fmt.Errorf("--name, --id, --age and --gender are required")
	}
	return p, nil
}

func printResult(r models.ScanRecord, savedTo string) {
	res := r.AnalysisResult
	fmt.Printf("Diagnosis:      %s\n", res.Diagnosis)
	fmt.Printf("Recommendation: %s\n", res.Recommendation)
	fmt.Printf("Confidence:     %.0f%%\n", res.Confidence*100)
	fmt.Printf("Emergency:      %d/100\n", res.EmergencyLevel)
	if res.IsCritical {
		fmt.Println("Critical:       yes")
	}
	fmt.Printf("Annotations:    %d\n", len(res.Annotations))
	fmt.Printf("Final audit:    %s\n", res.FinalAudit.Status)
	if savedTo != "" {
		fmt.Printf("Saved as %s for %s\n", r.ScanID, savedTo)
	}
}
