package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

// DefaultMaxTokens caps a completion when the config leaves it unset.
const DefaultMaxTokens = 1024

// Completer answers planner, rerank and drafting prompts through the chat completions API.
type Completer struct {
	client    *openai.Client
	model     string
	maxTokens int
	user      string
	provider  string
	logger    *zap.Logger
}

// NewCompleter creates an OpenAI-compatible chat completer.
func NewCompleter(cfg *Config) *Completer {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return &Completer{
		client:    newClient(cfg),
		model:     cfg.Model,
		maxTokens: maxTokens,
		user:      cfg.User,
		provider:  provider,
		logger:    cfg.Logger,
	}
}

// Complete implements domain.Completer.
func (c *Completer) Complete(ctx context.Context, prompt, context string) (string, error) {
	res, err := c.CompleteWithUsage(ctx, prompt, context)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// CompleteWithUsage sends prompt as the system message and context as the user message.
// An empty context sends the prompt alone as the user message.
func (c *Completer) CompleteWithUsage(ctx context.Context, prompt, context string) (domain.CompletionResult, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		User:      c.user,
		Messages:  buildMessages(prompt, context),
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(c.provider, c.model, "error").Inc()
		return domain.CompletionResult{}, parseAPIError("completion", err, domain.ErrLLMProviderError)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.LLMRequestsTotal.WithLabelValues(c.provider, c.model, "error").Inc()
		return domain.CompletionResult{}, fmt.Errorf("empty completion response: %w", domain.ErrLLMProviderError)
	}

	metrics.LLMRequestsTotal.WithLabelValues(c.provider, c.model, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(c.provider, c.model).Observe(duration.Seconds())
	metrics.LLMTokensTotal.WithLabelValues(c.provider, c.model, "input").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues(c.provider, c.model, "output").Add(float64(resp.Usage.CompletionTokens))

	if c.logger != nil {
		c.logger.Debug("completion request",
			zap.String("provider", c.provider),
			zap.String("model", c.model),
			zap.Duration("duration", duration),
			zap.Int("input_tokens", resp.Usage.PromptTokens),
			zap.Int("output_tokens", resp.Usage.CompletionTokens),
		)
	}

	return domain.CompletionResult{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels.
func (c *Completer) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func buildMessages(prompt, context string) []openai.ChatCompletionMessage {
	if strings.TrimSpace(context) == "" {
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		}
	}
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt},
		{Role: openai.ChatMessageRoleUser, Content: context},
	}
}
