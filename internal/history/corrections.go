package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/logger"
)

// DefaultExampleCount is how many corrections are fed to each analysis.
const DefaultExampleCount = 2

// AddCorrection prepends a human-corrected record to the shared feed,
// evicting the oldest entries beyond the cap.
func (s *Store) AddCorrection(ctx context.Context, record models.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var feed []models.ScanRecord
	if _, err := s.loadJSON(ctx, correctionsKey, &feed); err != nil {
		return err
	}
	feed = append([]models.ScanRecord{record}, feed...)
	if len(feed) > s.correctionCap {
		feed = feed[:s.correctionCap]
	}
	if err := s.saveJSON(ctx, correctionsKey, feed); err != nil {
		return err
	}

	logger.Info("Correction example recorded",
		zap.String("scan_id", record.ScanID),
		zap.Int("feed_size", len(feed)),
	)
	return nil
}

// CorrectionExamples returns up to n of the most recent corrections. A
// negative n selects DefaultExampleCount.
func (s *Store) CorrectionExamples(ctx context.Context, n int) ([]models.ScanRecord, error) {
	if n < 0 {
		n = DefaultExampleCount
	}
	var feed []models.ScanRecord
	if _, err := s.loadJSON(ctx, correctionsKey, &feed); err != nil {
		return nil, err
	}
	if len(feed) > n {
		feed = feed[:n]
	}
	return feed, nil
}
