package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/datauri"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/utils"
)

// Analyzer submits one ECG image for review. Implementations do not retry;
// callers decide whether a transient failure is worth another attempt.
type Analyzer interface {
	Analyze(ctx context.Context, imageDataURI string, patient models.PatientContext, examples []models.ScanRecord) (*models.AnalysisResult, error)
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

func NewAnalyzer(cfg config.AnalysisConfig) (Analyzer, error) {
	protocol, err := LoadProtocol(cfg.ProtocolFile)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg, protocol), nil
	case ProviderOllama:
		return NewOllamaClient(cfg, protocol)
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}

// request is the provider-neutral form of one analysis call.
type request struct {
	image  datauri.Image
	system string
	prompt string
}

func buildRequest(protocol *Protocol, imageDataURI string, patient models.PatientContext, examples []models.ScanRecord) (*request, error) {
	img, err := datauri.ParseImage(imageDataURI)
	if err != nil {
		return nil, scanerr.Wrap(scanerr.KindFormat, err)
	}
	prompt, err := protocol.Render(patient, examples)
	if err != nil {
		return nil, err
	}
	return &request{image: img, system: protocol.System, prompt: prompt}, nil
}

// finish decodes the reply and enforces the normal-diagnosis safety net.
func finish(provider string, start time.Time, content string) (*models.AnalysisResult, error) {
	metrics.AnalysisDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	result, err := Decode(content)
	if err != nil {
		logger.Warn("Malformed analysis response",
			zap.String("provider", provider),
			zap.Int("length", len(content)),
			zap.Error(err),
		)
		return nil, err
	}

	if ApplySafetyOverride(result) {
		metrics.SafetyOverrides.Inc()
		logger.Warn("Safety override applied", zap.String("provider", provider))
	}
	metrics.ConfidenceScore.Observe(result.Confidence)

	logger.Info("Analysis completed",
		zap.String("provider", provider),
		zap.String("diagnosis", result.Diagnosis),
		zap.Int("emergency_level", result.EmergencyLevel),
		zap.Int("annotations", len(result.Annotations)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func imageFingerprint(img datauri.Image) string {
	return utils.FingerprintString(img.Payload)
}
