package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/logger"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient runs the review against a local Ollama vision model.
type OllamaClient struct {
	client   *api.Client
	model    string
	protocol *Protocol
}

var _ Analyzer = (*OllamaClient)(nil)

func NewOllamaClient(cfg config.AnalysisConfig, protocol *Protocol) (*OllamaClient, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = defaultOllamaURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}

	// Keep scheme and host only; a pasted /api/chat path would be doubled.
	baseURL := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}

	logger.Info("Ollama analysis client initialized",
		zap.String("url", baseURL.String()),
		zap.String("model", cfg.Model),
	)

	return &OllamaClient{
		client:   api.NewClient(baseURL, http.DefaultClient),
		model:    cfg.Model,
		protocol: protocol,
	}, nil
}

func (c *OllamaClient) Analyze(ctx context.Context, imageDataURI string, patient models.PatientContext, examples []models.ScanRecord) (*models.AnalysisResult, error) {
	req, err := buildRequest(c.protocol, imageDataURI, patient, examples)
	if err != nil {
		return nil, err
	}
	imgBytes, err := req.image.Bytes()
	if err != nil {
		return nil, scanerr.Wrap(scanerr.KindFormat, err)
	}

	logger.Debug("Submitting analysis",
		zap.String("provider", ProviderOllama),
		zap.String("image", imageFingerprint(req.image)),
		zap.Int("examples", len(examples)),
	)

	streamFalse := false
	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: req.system},
			{
				Role:    "user",
				Content: req.prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Format:  ResponseSchemaJSON(),
		Options: map[string]any{"temperature": 0},
	}

	start := time.Now()
	var content strings.Builder
	err = c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Metrics.PromptEvalCount))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Metrics.EvalCount))
		}
		return nil
	})
	if err != nil {
		logger.Error("Analysis request failed", zap.String("provider", ProviderOllama), zap.Error(err))
		return nil, classifyOllamaError(err)
	}
	if content.Len() == 0 {
		return nil, scanerr.Wrap(scanerr.KindMalformedResponse, errors.New("empty response from ollama"))
	}

	return finish(ProviderOllama, start, content.String())
}

func classifyOllamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, statusErr.ErrorMessage, err)
	}
	return classifyTransport(err)
}
