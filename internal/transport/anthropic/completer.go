// Package anthropic adapts the Anthropic Messages API to the completion contract.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 1024
)

// Config holds the Anthropic completer settings.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Completer answers planner, rerank and drafting prompts through the Messages API.
type Completer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// NewCompleter creates a Messages API completer. Extra request options are appended
// after the ones derived from cfg.
func NewCompleter(cfg *Config, opts ...option.RequestOption) *Completer {
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	reqOpts = append(reqOpts, opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Completer{
		client:    anthropic.NewClient(reqOpts...),
		model:     cfg.Model,
		maxTokens: int64(maxTokens),
		logger:    logger,
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

// CompleteWithUsage sends prompt as the system block and context as the user turn.
// An empty context sends the prompt alone as the user turn.
func (c *Completer) CompleteWithUsage(ctx context.Context, prompt, context string) (domain.CompletionResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}
	if strings.TrimSpace(context) == "" {
		params.Messages = []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}
	} else {
		params.System = []anthropic.TextBlockParam{{Text: prompt}}
		params.Messages = []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(context)),
		}
	}

	start := time.Now()
	rsp, err := c.client.Messages.New(ctx, params)
	duration := time.Since(start)

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(providerName, c.model, "error").Inc()
		return domain.CompletionResult{}, wrapError(err)
	}

	var b strings.Builder
	for _, block := range rsp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		metrics.LLMRequestsTotal.WithLabelValues(providerName, c.model, "error").Inc()
		return domain.CompletionResult{}, fmt.Errorf("empty completion response: %w", domain.ErrLLMProviderError)
	}

	in, out := int(rsp.Usage.InputTokens), int(rsp.Usage.OutputTokens)
	metrics.LLMRequestsTotal.WithLabelValues(providerName, c.model, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(providerName, c.model).Observe(duration.Seconds())
	metrics.LLMTokensTotal.WithLabelValues(providerName, c.model, "input").Add(float64(in))
	metrics.LLMTokensTotal.WithLabelValues(providerName, c.model, "output").Add(float64(out))

	c.logger.Debug("completion request",
		zap.String("provider", providerName),
		zap.String("model", c.model),
		zap.Duration("duration", duration),
		zap.Int("input_tokens", in),
		zap.Int("output_tokens", out),
	)

	return domain.CompletionResult{Text: b.String(), InputTokens: in, OutputTokens: out}, nil
}

func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("completion API error %d: %w", apiErr.StatusCode, domain.ErrLLMProviderError)
	}
	return fmt.Errorf("completion request failed: %v: %w", err, domain.ErrLLMProviderError)
}
