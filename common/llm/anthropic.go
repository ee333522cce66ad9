package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicCompleter struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature *float64
}

func newAnthropicCompleter(cfg Config) *anthropicCompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}

	return &anthropicCompleter{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *anthropicCompleter) Stream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	maxTokens := c.maxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  c.convertMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.SystemPrompt}}
	}
	if c.temperature != nil {
		params.Temperature = anthropic.Float(*c.temperature)
	}

	start := time.Now()
	var resp *http.Response
	_, err := c.client.Messages.New(ctx, params,
		option.WithJSONSet("stream", true),
		option.WithHeader("Accept", "text/event-stream"),
		option.WithResponseBodyInto(&resp),
	)
	if err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	slog.DebugContext(ctx, "completion stream opened",
		"provider", ProviderAnthropic,
		"model", c.model,
		"messages", len(req.Messages),
		"duration_ms", time.Since(start).Milliseconds())

	return checkStreamResponse(ctx, ProviderAnthropic, resp)
}

func (c *anthropicCompleter) Model() string {
	return c.model
}

// convertMessages maps turn messages to Anthropic's alternating user/assistant form.
// The system prompt travels separately in MessageNewParams.System.
func (c *anthropicCompleter) convertMessages(msgs []Message) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		role := anthropic.MessageParamRoleUser
		if msg.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	return messages
}
