package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/lamim/reportforge/internal/config"
	"github.com/lamim/reportforge/pkg/models"
)

// SleepFunc blocks for the given duration or until the context is cancelled.
// It is injectable so retry timing can be tested without waiting.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Recorder receives one CallMetric per HTTP attempt, successful or not
type Recorder interface {
	RecordCall(m models.CallMetric)
}

// Client handles HTTP requests to OpenAI-compatible API endpoints
type Client struct {
	httpClient      *http.Client
	rateLimiterPool *RateLimiterPool
	logger          *slog.Logger
	retry           config.RetryConfig
	recorder        Recorder
	sleep           SleepFunc
}

// NewClient creates a new API client with the given retry policy
func NewClient(logger *slog.Logger, retry config.RetryConfig) *Client {
	return &Client{
		httpClient:      &http.Client{},
		rateLimiterPool: NewRateLimiterPool(),
		logger:          logger,
		retry:           retry,
		sleep:           defaultSleep,
	}
}

// SetRecorder registers a per-attempt metrics sink
func (c *Client) SetRecorder(r Recorder) {
	c.recorder = r
}

// SetSleep replaces the backoff sleep implementation
func (c *Client) SetSleep(fn SleepFunc) {
	c.sleep = fn
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Generate sends a chat completion request and retries transient failures
// with exponential backoff. The delay starts at initial_delay_seconds,
// doubles per failure, and is capped at max_delay_seconds. Non-retryable
// API errors surface immediately; after max_retries failed attempts a
// RetryExhaustedError wrapping the last failure is returned.
func (c *Client) Generate(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	messages []Message,
	meta CallMeta,
) (*models.GenerationResult, error) {
	modelID := fmt.Sprintf("%s:%s", modelCfg.BaseURL, modelCfg.ModelName)

	req := ChatCompletionRequest{
		Model:       modelCfg.ModelName,
		Messages:    messages,
		Temperature: modelCfg.Temperature,
		TopP:        modelCfg.TopP,
		MaxTokens:   modelCfg.MaxOutputTokens,
		N:           1,
	}

	delay := time.Duration(c.retry.InitialDelaySeconds) * time.Second
	maxDelay := time.Duration(c.retry.MaxDelaySeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxRetries; attempt++ {
		if err := c.rateLimiterPool.Wait(ctx, modelID, modelCfg.RateLimitPerMinute); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		start := time.Now()
		resp, err := c.doRequest(ctx, modelCfg, apiKey, req)
		latency := time.Since(start)

		c.record(meta, modelCfg, attempt, resp, err, latency)

		if err == nil {
			return &models.GenerationResult{
				Text: resp.Choices[0].Message.Content,
				Usage: models.TokenUsage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
					TotalTokens:  resp.Usage.TotalTokens,
				},
				Model:   modelCfg.ModelName,
				Latency: latency,
			}, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}

		sleepFor := delay
		if c.retry.Jitter {
			sleepFor += time.Duration(rand.Float64() * 0.1 * float64(delay))
			if sleepFor > maxDelay {
				sleepFor = maxDelay
			}
		}

		c.logger.Warn("Transient generation failure, backing off",
			"attempt", attempt,
			"max_retries", c.retry.MaxRetries,
			"backoff", sleepFor,
			"model", modelCfg.ModelName,
			"section", meta.Section,
			"error", err)

		if err := c.sleep(ctx, sleepFor); err != nil {
			return nil, err
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return nil, &RetryExhaustedError{Attempts: c.retry.MaxRetries, LastErr: lastErr}
}

func (c *Client) record(
	meta CallMeta,
	modelCfg config.ModelConfig,
	attempt int,
	resp *ChatCompletionResponse,
	err error,
	latency time.Duration,
) {
	if c.recorder == nil {
		return
	}

	m := models.CallMetric{
		RequestID: meta.RequestID,
		Timestamp: time.Now(),
		Section:   meta.Section,
		Model:     modelCfg.ModelName,
		Attempt:   attempt,
		Success:   err == nil,
		Latency:   latency,
	}
	if resp != nil {
		m.InputTokens = resp.Usage.PromptTokens
		m.OutputTokens = resp.Usage.CompletionTokens
		m.TotalTokens = resp.Usage.TotalTokens
		m.CostEstimate = EstimateCost(modelCfg, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	c.recorder.RecordCall(m)
}

// EstimateCost converts token counts to an approximate USD cost using the
// model's per-million-token rates. Unpriced models estimate to zero.
func EstimateCost(modelCfg config.ModelConfig, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*modelCfg.CostPer1MInput/1e6 +
		float64(outputTokens)*modelCfg.CostPer1MOutput/1e6
}

func (c *Client) doRequest(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	req ChatCompletionRequest,
) (*ChatCompletionResponse, error) {
	timeout := time.Duration(modelCfg.HTTPTimeoutSeconds) * time.Second
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := modelCfg.BaseURL
	if endpoint[len(endpoint)-1] != '/' {
		endpoint += "/"
	}
	endpoint += "chat/completions"

	httpReq, err := http.NewRequestWithContext(reqCtx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	} else {
		c.logger.Warn("API request without key", "endpoint", endpoint)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Give up on caller cancellation instead of retrying into it
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &APIError{
			Message:    fmt.Sprintf("request failed: %v", err),
			StatusCode: 0,
			Retryable:  true,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &APIError{
			Message:    fmt.Sprintf("failed to read response: %v", err),
			StatusCode: httpResp.StatusCode,
			Retryable:  true,
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		retryable := isStatusCodeRetryable(httpResp.StatusCode)

		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &APIError{
				Message:    errResp.Error.Message,
				StatusCode: httpResp.StatusCode,
				Type:       errResp.Error.Type,
				Code:       errResp.Error.Code,
				Retryable:  retryable,
			}
		}

		return nil, &APIError{
			Message:    fmt.Sprintf("API request failed with status %d: %s", httpResp.StatusCode, string(respBody)),
			StatusCode: httpResp.StatusCode,
			Retryable:  retryable,
		}
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &APIError{
			Message:    fmt.Sprintf("failed to parse response: %v", err),
			StatusCode: httpResp.StatusCode,
			Retryable:  true,
		}
	}

	if len(resp.Choices) == 0 {
		return nil, &APIError{
			Message:    "no choices returned in response",
			StatusCode: httpResp.StatusCode,
			Retryable:  true,
		}
	}

	return &resp, nil
}

func isRetryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable
	}
	return false
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}
