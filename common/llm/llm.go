package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Provider constants for LLM provider selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds completion client configuration.
type Config struct {
	Provider    string // "openai" or "anthropic"
	APIKey      string // Required: API key for the provider
	BaseURL     string // Optional: custom API endpoint
	Model       string
	MaxTokens   int
	Temperature *float64 // nil = model default
}

// Message represents a conversation message sent as completion context.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// StreamRequest is one completion call for a conversation turn.
type StreamRequest struct {
	SystemPrompt string
	Messages     []Message
}

// Completer opens an incremental completion and hands back the raw
// server-sent-event body. Callers own the body and must close it.
// Decoding is left to the caller so fragments can be cut as bytes arrive.
type Completer interface {
	Stream(ctx context.Context, req StreamRequest) (io.ReadCloser, error)
	Model() string
}

// NewCompleter selects the provider based on cfg.Provider, defaulting to OpenAI.
func NewCompleter(cfg Config) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}

	switch provider {
	case ProviderOpenAI:
		return newOpenAICompleter(cfg), nil
	case ProviderAnthropic:
		return newAnthropicCompleter(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

func Temp(t float64) *float64 {
	return &t
}

// IsTimeout reports whether err means the provider did not answer in time.
// Timeouts are the only upstream failure a turn retries.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusRequestTimeout || statusErr.StatusCode == http.StatusGatewayTimeout
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode == http.StatusRequestTimeout || openaiErr.StatusCode == http.StatusGatewayTimeout
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode == http.StatusRequestTimeout || anthropicErr.StatusCode == http.StatusGatewayTimeout
	}

	return false
}

func checkStreamResponse(ctx context.Context, provider string, resp *http.Response) (io.ReadCloser, error) {
	if resp == nil {
		return nil, fmt.Errorf("%s stream: empty response", provider)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		slog.WarnContext(ctx, "completion stream rejected",
			"provider", provider,
			"status_code", resp.StatusCode,
			"body", string(body))
		return nil, &StatusError{Provider: provider, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// StatusError is a stream the provider answered with an error status.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s stream: status %d", e.Provider, e.StatusCode)
}
