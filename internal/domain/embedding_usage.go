package domain

import (
	"context"
	"sync"
)

type tokenUsageKey struct{}

// TokenUsage collects embedding and LLM token usage for a single turn.
// Sub-queries run concurrently, so writes are guarded.
type TokenUsage struct {
	mu              sync.Mutex
	embeddingTokens int
	llmTokens       int
}

// NewContextWithUsage returns a context carrying a fresh usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *TokenUsage) {
	u := &TokenUsage{}
	return context.WithValue(ctx, tokenUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *TokenUsage {
	u, _ := ctx.Value(tokenUsageKey{}).(*TokenUsage)
	return u
}

// AddEmbeddingTokens records embedding tokens. Safe on a nil receiver.
func (u *TokenUsage) AddEmbeddingTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.embeddingTokens += n
	u.mu.Unlock()
}

// AddLLMTokens records completion tokens. Safe on a nil receiver.
func (u *TokenUsage) AddLLMTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.llmTokens += n
	u.mu.Unlock()
}

// Totals returns embedding and LLM token counts.
func (u *TokenUsage) Totals() (embedding, llm int) {
	if u == nil {
		return 0, 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.embeddingTokens, u.llmTokens
}
