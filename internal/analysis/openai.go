package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/logger"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// with vision and JSON schema output.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	protocol  *Protocol
}

var _ Analyzer = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg config.AnalysisConfig, protocol *Protocol) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	logger.Info("OpenAI analysis client initialized",
		zap.String("model", cfg.Model),
		zap.String("protocol", protocol.Name),
	)

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		protocol:  protocol,
	}
}

func (c *OpenAIClient) Analyze(ctx context.Context, imageDataURI string, patient models.PatientContext, examples []models.ScanRecord) (*models.AnalysisResult, error) {
	req, err := buildRequest(c.protocol, imageDataURI, patient, examples)
	if err != nil {
		return nil, err
	}

	logger.Debug("Submitting analysis",
		zap.String("provider", ProviderOpenAI),
		zap.String("image", imageFingerprint(req.image)),
		zap.Int("examples", len(examples)),
	)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.system,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: req.prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageDataURI,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		// A zero temperature would be dropped by omitempty.
		Temperature: math.SmallestNonzeroFloat32,
		MaxTokens:   c.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "ecg_analysis",
				Schema: ResponseSchema(),
			},
		},
	})
	if err != nil {
		logger.Error("Analysis request failed", zap.String("provider", ProviderOpenAI), zap.Error(err))
		return nil, classifyOpenAIError(err)
	}

	metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		return nil, scanerr.Wrap(scanerr.KindMalformedResponse, errors.New("response has no choices"))
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter || choice.Message.Refusal != "" {
		return nil, scanerr.Wrap(scanerr.KindBlocked, fmt.Errorf("model declined: %s", choice.Message.Refusal))
	}

	return finish(ProviderOpenAI, start, choice.Message.Content)
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Type
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code) + " " + apiErr.Type
		}
		return classifyStatus(apiErr.HTTPStatusCode, code, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return classifyStatus(reqErr.HTTPStatusCode, "", err)
	}

	return classifyTransport(err)
}
