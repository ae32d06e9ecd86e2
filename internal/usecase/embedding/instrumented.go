// Package embedding puts the token budget in front of the embedding provider.
// Query embeddings (retrieval) and chunk embeddings (ingest, local index) pass
// through the same decorator so both count against one provider budget.
package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

// DefaultMaxRequestTexts caps texts per provider request. A local-index scope
// (every chunk of one ticker) is usually larger than this.
const DefaultMaxRequestTexts = 256

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// InstrumentedEmbedder gates provider calls on the budget and records what
// they cost. Request metrics live in the transport.
type InstrumentedEmbedder struct {
	inner      domain.Embedder
	provider   string
	model      string
	budget     BudgetChecker
	maxPerCall int
	logger     *zap.Logger
}

// NewInstrumentedEmbedder wraps inner. budget may be nil.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string,
	budget BudgetChecker, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:      inner,
		provider:   provider,
		model:      model,
		budget:     budget,
		maxPerCall: DefaultMaxRequestTexts,
		logger:     logger.With(zap.String("provider", provider), zap.String("model", model)),
	}
}

// WithMaxRequestTexts overrides the per-request text cap.
func (p *InstrumentedEmbedder) WithMaxRequestTexts(n int) *InstrumentedEmbedder {
	if n > 0 {
		p.maxPerCall = n
	}
	return p
}

// Embed embeds one text (a sub-query, usually).
func (p *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := p.gate(ctx); err != nil {
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()
	res, err := p.inner.Embed(ctx, text)
	if err != nil {
		p.logger.Error("Embedding request failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	p.settle(res.TotalTokens)
	p.logger.Debug("Embedded text",
		zap.Duration("duration", time.Since(start)),
		zap.Int("dimensions", len(res.Embedding)),
		zap.Int("total_tokens", res.TotalTokens),
	)
	return res, nil
}

// BatchEmbed embeds texts in provider-sized slices. The budget is checked
// before every slice, so a long ingest stops as soon as the limit is hit;
// tokens of slices that already succeeded are still recorded.
func (p *InstrumentedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var out domain.BatchEmbeddingResult
	if len(texts) == 0 {
		return out, nil
	}

	start := time.Now()
	defer func() { p.settle(out.TotalTokens) }()

	for lo := 0; lo < len(texts); lo += p.maxPerCall {
		hi := min(lo+p.maxPerCall, len(texts))
		if err := p.gate(ctx); err != nil {
			return domain.BatchEmbeddingResult{TotalTokens: out.TotalTokens}, err
		}

		res, err := domain.EmbedAll(ctx, p.inner, texts[lo:hi])
		if err != nil {
			p.logger.Error("Batch embedding request failed",
				zap.Int("offset", lo),
				zap.Int("size", hi-lo),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{TotalTokens: out.TotalTokens}, fmt.Errorf("batch embed [%d:%d]: %w", lo, hi, err)
		}
		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
	}

	p.logger.Debug("Embedded batch",
		zap.Duration("duration", time.Since(start)),
		zap.Int("texts", len(texts)),
		zap.Int("total_tokens", out.TotalTokens),
	)
	return out, nil
}

func (p *InstrumentedEmbedder) gate(ctx context.Context) error {
	if p.budget == nil {
		return nil
	}
	if err := p.budget.Check(ctx); err != nil {
		p.logger.Warn("Embedding budget exceeded", zap.Error(err))
		return fmt.Errorf("budget check: %w", err)
	}
	return nil
}

// settle records spent tokens; cache hits report zero and cost nothing.
func (p *InstrumentedEmbedder) settle(tokens int) {
	if p.budget == nil || tokens <= 0 {
		return
	}
	p.budget.Record(int64(tokens))
	g := metrics.EmbeddingBudgetTokensRemaining
	g.WithLabelValues(p.provider, "daily").Set(float64(p.budget.RemainingDaily()))
	g.WithLabelValues(p.provider, "monthly").Set(float64(p.budget.RemainingMonthly()))
}
