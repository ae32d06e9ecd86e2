package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kailas-cloud/filingbrief/internal/domain/market"
)

// Completer is the LLM completion contract. Context is supporting material
// (evidence passages, candidate lists) kept separate from the instruction prompt.
type Completer interface {
	Complete(ctx context.Context, prompt, context string) (string, error)
}

// CompletionResult carries the reply and its token usage through the decorator chain.
type CompletionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// TotalTokens returns input plus output tokens.
func (r CompletionResult) TotalTokens() int { return r.InputTokens + r.OutputTokens }

// UsageCompleter is implemented by LLM transports that report token usage.
type UsageCompleter interface {
	CompleteWithUsage(ctx context.Context, prompt, context string) (CompletionResult, error)
}

// MarketDataProvider fetches a live snapshot for one ticker.
type MarketDataProvider interface {
	Snapshot(ctx context.Context, ticker string) (market.Snapshot, error)
}

// ParseJSONResponse decodes a JSON payload from an LLM reply, tolerating markdown
// code fences and leading prose.
func ParseJSONResponse(text string, v any) error {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.IndexAny(s, "[{"); start > 0 {
		s = s[start:]
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("parse llm json: %w", err)
	}
	return nil
}
