package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openaiCompleter struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature *float64
}

func newOpenAICompleter(cfg Config) *openaiCompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &openaiCompleter{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *openaiCompleter) Stream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	maxTokens := c.maxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            c.convertMessages(req),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}

	start := time.Now()
	var resp *http.Response
	// The SDK's own stream decoder is bypassed: the raw body goes to the chunk parser.
	_, err := c.client.Chat.Completions.New(ctx, params,
		option.WithJSONSet("stream", true),
		option.WithJSONSet("stream_options", map[string]any{"include_usage": true}),
		option.WithHeader("Accept", "text/event-stream"),
		option.WithResponseBodyInto(&resp),
	)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	slog.DebugContext(ctx, "completion stream opened",
		"provider", ProviderOpenAI,
		"model", c.model,
		"messages", len(req.Messages),
		"duration_ms", time.Since(start).Milliseconds())

	return checkStreamResponse(ctx, ProviderOpenAI, resp)
}

func (c *openaiCompleter) Model() string {
	return c.model
}

func (c *openaiCompleter) convertMessages(req StreamRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	return messages
}
