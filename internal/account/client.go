package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/circuitbreaker"
	"github.com/cardioscan/backend/pkg/config"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/retry"
	"github.com/cardioscan/backend/pkg/utils"
)

const maxResponseBytes = 8 << 20

// Client talks to the account service REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
	breaker    *circuitbreaker.CircuitBreaker
}

var _ Authenticator = (*Client)(nil)

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker replaces the default breaker guarding every call.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// WithRetry sets the policy for idempotent calls.
func WithRetry(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(cfg config.AccountConfig, opts ...ClientOption) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid account service url %q", cfg.BaseURL)
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := retry.DefaultConfig()
	rc.Name = "account"
	rc.Retryable = scanerr.Transient
	rc.Logger = logger.GetLogger()

	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		retry:      rc,
	}
	c.breaker = circuitbreaker.New("account", circuitbreaker.Config{
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		IsFailure:        scanerr.Transient,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.Named("account"),
	})
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type authResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

func (c *Client) Login(ctx context.Context, email, password string) (*Identity, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/api/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		logger.Warn("Remote login failed", zap.String("email", utils.MaskEmail(email)), zap.Error(err))
		return nil, err
	}
	return &Identity{User: resp.User, Token: resp.Token}, nil
}

func (c *Client) Signup(ctx context.Context, name, email, password string) (*Identity, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/api/signup", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &Identity{User: resp.User, Token: resp.Token}, nil
}

func (c *Client) RequestReset(ctx context.Context, email string) (*ResetTicket, error) {
	var resp struct {
		Data *ResetTicket `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/request-reset", "", map[string]string{"email": email}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return &ResetTicket{MaskedEmail: utils.MaskEmail(email)}, nil
	}
	return resp.Data, nil
}

func (c *Client) VerifyReset(ctx context.Context, email, code string) error {
	return c.do(ctx, http.MethodPost, "/api/verify-reset", "", map[string]string{
		"email": email,
		"code":  code,
	}, nil)
}

func (c *Client) FinalizeReset(ctx context.Context, email, newPassword, code string) error {
	return c.do(ctx, http.MethodPost, "/api/finalize-reset", "", map[string]string{
		"email":       email,
		"newPassword": newPassword,
		"code":        code,
	}, nil)
}

// Users lists the account service's users. Requires an admin token.
func (c *Client) Users(ctx context.Context, token string) ([]models.User, error) {
	return retry.DoWithResult(ctx, c.retry, func() ([]models.User, error) {
		var resp struct {
			Users []models.User `json:"users"`
		}
		if err := c.do(ctx, http.MethodGet, "/api/admin/users", token, nil, &resp); err != nil {
			return nil, err
		}
		return resp.Users, nil
	})
}

func (c *Client) SubmitFeedback(ctx context.Context, token, scanID string, fb Feedback) error {
	return c.do(ctx, http.MethodPost, "/api/scans/"+url.PathEscape(scanID)+"/feedback", token, fb, nil)
}

func (c *Client) CreateScan(ctx context.Context, token string, record models.ScanRecord) error {
	return c.do(ctx, http.MethodPost, "/api/scans", token, record, nil)
}

func (c *Client) DeleteScan(ctx context.Context, token, scanID string) error {
	return retry.Do(ctx, c.retry, func() error {
		return c.do(ctx, http.MethodDelete, "/api/scans/"+url.PathEscape(scanID), token, nil, nil)
	})
}

type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// do runs one request through the breaker. An open breaker reads as
// ServiceUnavailable so callers treat it like an overloaded service.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	err := c.breaker.Execute(func() error {
		return c.send(ctx, method, path, token, body, out)
	})
	if circuitbreaker.Rejected(err) {
		return scanerr.Wrapf(scanerr.KindServiceUnavailable, err, "The account service is currently unavailable. Please try again in a few moments.")
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return scanerr.Wrapf(scanerr.KindNetwork, err, "Could not connect to the account service. Please check your connection and try again.")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return scanerr.Wrapf(scanerr.KindNetwork, err, "Could not connect to the account service. Please check your connection and try again.")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return statusError(resp.StatusCode, "")
		}
		return scanerr.Wrapf(scanerr.KindMalformedResponse, err, "Could not parse server response.")
	}

	if resp.StatusCode >= 400 {
		logger.Debug("Account service rejected request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return statusError(resp.StatusCode, env.Message)
	}
	if env.Success != nil && !*env.Success {
		return scanerr.New(scanerr.KindValidation, env.Message)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return scanerr.Wrapf(scanerr.KindMalformedResponse, err, "Could not parse server response.")
		}
	}
	return nil
}

func statusError(status int, message string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return scanerr.New(scanerr.KindUnauthorized, message)
	case status == http.StatusNotFound:
		return scanerr.New(scanerr.KindNotFound, message)
	case status == http.StatusConflict:
		return scanerr.New(scanerr.KindConflict, message)
	case status == http.StatusTooManyRequests || status >= 500:
		return scanerr.New(scanerr.KindServiceUnavailable, "The account service is currently unavailable. Please try again in a few moments.")
	default:
		if message == "" {
			message = fmt.Sprintf("The account service rejected the request (status %d).", status)
		}
		return scanerr.New(scanerr.KindValidation, message)
	}
}
