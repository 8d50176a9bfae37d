// Package oracle is the client for the natural-language classification
// service. The core never assumes specific prose from the model, only the
// typed, schema-validated shapes defined in prompts.go.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Carlvebbesen/IntervalInsights/internal/logger"
)

// ErrNoResult marks an oracle reply that did not validate into a usable
// structured result. Callers treat it as "retry later", not a failure.
var ErrNoResult = errors.New("oracle returned no usable result")

// APIError carries the upstream status and body of a failed oracle call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oracle API error %d: %s", e.StatusCode, e.Body)
}

// IsRateLimit reports whether the error is a rate-limit signal: an explicit
// 429 status or a textual marker in the body.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return strings.Contains(apiErr.Body, "429") || strings.Contains(apiErr.Body, "RESOURCE_EXHAUSTED")
	}
	return false
}

// Config are the connection settings for the oracle endpoint.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client calls a chat-completions style endpoint with strict JSON-schema
// output. Server errors are retried with exponential backoff; rate limits are
// surfaced immediately so the orchestrator's own bounded retry policy governs
// them.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

// NewClient constructs a Client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		log:        log.With("service", "oracle"),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateJSON sends system+user prompts with a strict output schema and
// unmarshals the model's JSON reply into out.
func (c *Client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any, out any) error {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: map[string]any{
				"name":   schemaName,
				"schema": schema,
				"strict": true,
			},
		},
	}

	var resp chatResponse
	if err := c.do(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return err
	}

	if len(resp.Choices) == 0 {
		return ErrNoResult
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		c.log.Warn("oracle refused request", "schema", schemaName, "refusal", msg.Refusal)
		return ErrNoResult
	}
	if strings.TrimSpace(msg.Content) == "" {
		return ErrNoResult
	}
	if err := json.Unmarshal([]byte(msg.Content), out); err != nil {
		return fmt.Errorf("%w: parse model JSON: %v", ErrNoResult, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.doOnce(ctx, path, body, out)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= c.maxRetries {
			return err
		}

		c.log.Warn("oracle request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"error", err.Error(),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func (c *Client) doOnce(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("oracle decode error: %w", err)
	}
	return nil
}

// retryable: transient server and transport failures only. 4xx (including
// rate limits) belong to the caller.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
