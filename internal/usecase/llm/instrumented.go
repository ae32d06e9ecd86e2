// Package llm decorates completion transports with budget enforcement and usage accounting.
package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// InstrumentedCompleter wraps a completion transport with budget checks and
// per-turn token accounting. Transport metrics stay in the transport packages.
type InstrumentedCompleter struct {
	inner    domain.UsageCompleter
	provider string
	model    string
	budget   BudgetChecker
	logger   *zap.Logger
}

// NewInstrumentedCompleter wraps inner. budget may be nil.
func NewInstrumentedCompleter(
	inner domain.UsageCompleter, provider, model string,
	budget BudgetChecker, logger *zap.Logger,
) *InstrumentedCompleter {
	return &InstrumentedCompleter{
		inner:    inner,
		provider: provider,
		model:    model,
		budget:   budget,
		logger:   logger,
	}
}

// Complete implements domain.Completer.
func (c *InstrumentedCompleter) Complete(ctx context.Context, prompt, context string) (string, error) {
	res, err := c.CompleteWithUsage(ctx, prompt, context)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// CompleteWithUsage checks the budget, delegates, then records tokens in the
// budget and in the turn's usage collector.
func (c *InstrumentedCompleter) CompleteWithUsage(
	ctx context.Context, prompt, context string,
) (domain.CompletionResult, error) {
	if c.budget != nil {
		if err := c.budget.Check(ctx); err != nil {
			c.logger.Warn("LLM budget exceeded",
				zap.String("provider", c.provider),
				zap.String("model", c.model),
				zap.Error(err),
			)
			return domain.CompletionResult{}, fmt.Errorf("budget check: %w", err)
		}
	}

	start := time.Now()
	res, err := c.inner.CompleteWithUsage(ctx, prompt, context)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Completion request failed",
			zap.String("provider", c.provider),
			zap.String("model", c.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.CompletionResult{}, fmt.Errorf("complete: %w", err)
	}

	total := res.TotalTokens()
	domain.UsageFromContext(ctx).AddLLMTokens(total)

	if c.budget != nil && total > 0 {
		c.budget.Record(int64(total))
		remaining := metrics.LLMBudgetTokensRemaining
		remaining.WithLabelValues(c.provider, "daily").Set(float64(c.budget.RemainingDaily()))
		remaining.WithLabelValues(c.provider, "monthly").Set(float64(c.budget.RemainingMonthly()))
	}

	return res, nil
}
