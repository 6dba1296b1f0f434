// Package llmclient implements the completion client (C11): an HTTP
// client to the configured LLM provider guarded by a circuit breaker
// (sony/gobreaker) and retried with exponential backoff
// (cenkalti/backoff/v4). Grounded on the teacher's provider-client shape
// (one client per LLMProviderConfig, JSON request/response, context
// deadline propagation) with the resilience layer added per SPEC_FULL.md
// §4.6/§7 (Transient errors recovered via retry, never silently dropped).
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Message is one turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider-agnostic request shape the reasoning
// loop and pipeline phases build.
type CompletionRequest struct {
	SystemPrompt   string
	Messages       []Message
	ThinkingBudget int // token hint, see config.ThinkingBudget.Tokens()
	Temperature    float64
}

// CompletionResponse is the provider-agnostic result.
type CompletionResponse struct {
	Text       string
	TokenUsage TokenUsage
}

// TokenUsage mirrors models.TokenUsage without importing pkg/models, to
// keep this package usable standalone from a model-less test harness.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Client is a Completer implementation for one configured LLM provider.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// HTTPClient calls an external completion endpoint over JSON, with a
// circuit breaker tripping on repeated failures and exponential-backoff
// retry for transient ones.
type HTTPClient struct {
	httpClient *http.Client
	provider   *config.LLMProviderConfig
	apiKey     string
	breaker    *gobreaker.CircuitBreaker[*CompletionResponse]
}

// NewHTTPClient builds a completion client for one provider configuration.
// apiKey is resolved by the caller from provider.APIKeyEnv.
func NewHTTPClient(provider *config.LLMProviderConfig, apiKey string) *HTTPClient {
	timeout := time.Duration(provider.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	breakerSettings := gobreaker.Settings{
		Name:        fmt.Sprintf("llmclient:%s", provider.Model),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		provider:   provider,
		apiKey:     apiKey,
		breaker:    gobreaker.NewCircuitBreaker[*CompletionResponse](breakerSettings),
	}
}

// Complete sends the request to the provider's completion endpoint,
// retrying transient failures with exponential backoff while the circuit
// breaker is closed. A tripped breaker fails fast with ErrTransient
// instead of piling more load onto a provider that is already erroring.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	var resp *CompletionResponse
	operation := func() error {
		result, err := c.breaker.Execute(func() (*CompletionResponse, error) {
			return c.doRequest(ctx, req)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(apperrors.Transient("llmclient: circuit breaker open", err))
			}
			return err
		}
		resp = result
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if _, ok := err.(*apperrors.Wrapped); ok {
			return nil, err
		}
		return nil, apperrors.Transient("llmclient.Complete", err)
	}

	return resp, nil
}

type providerRequestBody struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type providerResponseBody struct {
	Content string `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *HTTPClient) doRequest(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body := providerRequestBody{
		Model:       c.provider.Model,
		System:      req.SystemPrompt,
		Messages:    req.Messages,
		MaxTokens:   req.ThinkingBudget,
		Temperature: req.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling completion request: %w", err)
	}

	url := c.provider.BaseURL
	if url == "" {
		url = defaultEndpoint(c.provider.Type)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading completion response: %w", err)
	}

	if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("completion endpoint returned %d: %s", httpResp.StatusCode, respBody)
	}
	if httpResp.StatusCode >= 400 {
		return nil, backoff.Permanent(fmt.Errorf("completion endpoint rejected request (%d): %s", httpResp.StatusCode, respBody))
	}

	var parsed providerResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decoding completion response: %w", err))
	}

	return &CompletionResponse{
		Text: parsed.Content,
		TokenUsage: TokenUsage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

func defaultEndpoint(t config.LLMProviderType) string {
	switch t {
	case config.LLMProviderTypeOpenAI:
		return "https://api.openai.com/v1/chat/completions"
	case config.LLMProviderTypeGoogle:
		return "https://generativelanguage.googleapis.com/v1/models/completion"
	default:
		return "https://api.anthropic.com/v1/messages"
	}
}
