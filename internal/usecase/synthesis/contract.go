package synthesis

import (
	"context"

	"github.com/kailas-cloud/filingbrief/internal/domain/candidate"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
	"github.com/kailas-cloud/filingbrief/internal/domain/query"
)

// SentenceScorer ranks candidate sentences against a sub-query.
type SentenceScorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Completer drafts the executive summary when configured.
type Completer interface {
	Complete(ctx context.Context, prompt, context string) (string, error)
}

// Evidence is the re-ranked result for one sub-query. Gap explains an empty
// candidate list (timeout, backend failure); empty means the index had nothing.
type Evidence struct {
	SubQuery   query.SubQuery
	Candidates []candidate.Candidate
	Gap        string
}

// Input is everything a turn gathered before drafting.
type Input struct {
	Query    string
	Evidence []Evidence
	Markets  []market.Snapshot
	Warnings []string
}
