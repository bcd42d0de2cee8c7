package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/taskrelay-labs/taskrelay-go/internal/platform/env"
)

// Config holds generation defaults, overridable per call.
type Config struct {
	APIKey         string
	DraftModel     string
	DraftMaxTokens int
}

func ConfigFromEnv() (Config, error) {
	draftMaxTokens, err := env.Int("TASKRELAY_LLM_DRAFT_MAX_TOKENS", 2048)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		APIKey:         env.String("ANTHROPIC_API_KEY", ""),
		DraftModel:     env.String("TASKRELAY_LLM_DRAFT_MODEL", "claude-sonnet-4-20250514"),
		DraftMaxTokens: draftMaxTokens,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("ANTHROPIC_API_KEY is required")
	}
	if strings.TrimSpace(c.DraftModel) == "" {
		return errors.New("TASKRELAY_LLM_DRAFT_MODEL is required")
	}
	if c.DraftMaxTokens < 1 {
		return errors.New("TASKRELAY_LLM_DRAFT_MAX_TOKENS must be >= 1")
	}
	return nil
}

// AnthropicClient is the production Client over langchaingo's anthropic
// provider.
type AnthropicClient struct {
	model llms.Model
	cfg   Config
}

func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := anthropic.New(
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.DraftModel),
	)
	if err != nil {
		return nil, &GenerationError{Err: err}
	}
	return &AnthropicClient{model: model, cfg: cfg}, nil
}

// NewClientWithModel wires an already-constructed model, used by tests.
func NewClientWithModel(model llms.Model, cfg Config) *AnthropicClient {
	return &AnthropicClient{model: model, cfg: cfg}
}

func (c *AnthropicClient) Generate(ctx context.Context, req GenerateRequest) (json.RawMessage, error) {
	if c == nil || c.model == nil {
		return nil, &GenerationError{Err: errors.New("client not initialized")}
	}
	if err := req.Validate(); err != nil {
		return nil, &GenerationError{Err: err}
	}

	maxTokens := req.MaxTokens
	if maxTokens < 1 {
		maxTokens = c.cfg.DraftMaxTokens
	}
	opts := []llms.CallOption{llms.WithMaxTokens(maxTokens)}
	if strings.TrimSpace(req.Model) != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.SystemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(req.UserMessage)},
		},
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, &GenerationError{Err: err}
	}

	var parts []string
	for _, choice := range resp.Choices {
		if strings.TrimSpace(choice.Content) != "" {
			parts = append(parts, choice.Content)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return nil, &GenerationError{Err: errors.New("empty response")}
	}
	return DecodeJSON(text)
}
