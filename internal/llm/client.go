// Package llm wraps a langchaingo model with rate limiting and the output
// cleanup every prompt-driven component needs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultRateLimit      = 2.0
	defaultBurst          = 4
	defaultMaxTokens      = 2048
)

// ErrEmptyResponse is returned when the model produces no choices.
var ErrEmptyResponse = errors.New("empty response from model")

// Config selects and tunes a model.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	RateLimit   float64
	Burst       int
}

// NewModel builds a langchaingo model for cfg.Provider.
func NewModel(cfg Config) (llms.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai API key required")
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key required")
		}
		model := cfg.Model
		if model == "" {
			model = defaultAnthropicModel
		}
		return anthropic.New(anthropic.WithModel(model), anthropic.WithToken(cfg.APIKey))
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// Client sends system+user prompts to a model, one at a time per token.
type Client struct {
	model       llms.Model
	limiter     *rate.Limiter
	temperature float64
	maxTokens   int
}

// NewClient wraps model. Zero rate settings fall back to defaults.
func NewClient(model llms.Model, cfg Config) *Client {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		model:       model,
		limiter:     rate.NewLimiter(rate.Limit(limit), burst),
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

// Complete returns the model's text answer to prompt under system.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var msgs []llms.MessageContent
	if system != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	resp, err := c.model.GenerateContent(ctx, msgs,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// StripThinkBlocks removes <think>...</think> reasoning blocks. An unclosed
// block is stripped to the end of the string.
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes markdown code fences and reasoning blocks.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

// ExtractJSON returns the outermost JSON object in model output, tolerating
// fences and surrounding prose.
func ExtractJSON(s string) (string, bool) {
	s = StripFences(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
