package rerank

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/filingbrief/internal/domain"
)

const (
	llmRerankPrompt = `You are a ranking model for SEC 10-K passages.
Score each passage 0-10 for how directly it helps answer the query (10 = answers it).
Be strict. Return ONLY JSON: {"results":[{"id":"p0","score":7}, ...]} covering every passage.

Query: `
	maxPassageChars = 1200
)

// LLMScorer asks a completion model for relevance scores.
type LLMScorer struct {
	llm Completer
}

// NewLLMScorer creates an LLM-backed scorer.
func NewLLMScorer(llm Completer) *LLMScorer {
	return &LLMScorer{llm: llm}
}

type llmScores struct {
	Results []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score implements Scorer. Passages the model leaves out score 0; scores are clamped to 0-10.
func (s *LLMScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	var sb strings.Builder
	for i, p := range passages {
		if len(p) > maxPassageChars {
			p = p[:maxPassageChars]
		}
		fmt.Fprintf(&sb, "[p%d]\n%s\n\n", i, p)
	}

	reply, err := s.llm.Complete(ctx, llmRerankPrompt+query, sb.String())
	if err != nil {
		return nil, fmt.Errorf("rerank completion: %w", err)
	}

	var parsed llmScores
	if err := domain.ParseJSONResponse(reply, &parsed); err != nil {
		return nil, fmt.Errorf("rerank reply: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("rerank reply: no scores")
	}

	out := make([]float64, len(passages))
	for _, r := range parsed.Results {
		var idx int
		if _, err := fmt.Sscanf(strings.TrimSpace(r.ID), "p%d", &idx); err != nil || idx < 0 || idx >= len(passages) {
			continue
		}
		out[idx] = clamp(r.Score, 0, 10)
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
