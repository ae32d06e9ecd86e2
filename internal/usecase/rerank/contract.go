package rerank

import "context"

// Scorer rates passages against a query. It returns one score per passage, 0-10.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Completer is the LLM surface used by LLMScorer.
type Completer interface {
	Complete(ctx context.Context, prompt, context string) (string, error)
}
