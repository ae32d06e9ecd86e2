package analysis

import (
	"context"

	"github.com/kailas-cloud/filingbrief/internal/domain/brief"
	"github.com/kailas-cloud/filingbrief/internal/domain/candidate"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
	dommem "github.com/kailas-cloud/filingbrief/internal/domain/memory"
	"github.com/kailas-cloud/filingbrief/internal/domain/query"
	"github.com/kailas-cloud/filingbrief/internal/usecase/planner"
	"github.com/kailas-cloud/filingbrief/internal/usecase/retrieval"
	"github.com/kailas-cloud/filingbrief/internal/usecase/synthesis"
)

// Planner decomposes a user query.
type Planner interface {
	Plan(ctx context.Context, userQuery string, sc planner.SessionContext) ([]query.SubQuery, error)
}

// Retriever runs hybrid search for one sub-query.
type Retriever interface {
	Retrieve(ctx context.Context, q query.SubQuery) (retrieval.Result, error)
}

// Reranker orders and truncates fused candidates.
type Reranker interface {
	Rerank(ctx context.Context, q query.SubQuery, cands []candidate.Candidate) []candidate.Candidate
}

// Synthesizer drafts the brief.
type Synthesizer interface {
	Synthesize(ctx context.Context, in synthesis.Input) (brief.Brief, error)
}

// Auditor verifies the brief and attaches findings.
type Auditor interface {
	Apply(ctx context.Context, b brief.Brief) (brief.Brief, error)
}

// MarketData fetches live snapshots.
type MarketData interface {
	Snapshot(ctx context.Context, ticker string) (market.Snapshot, error)
}

// Memory is the slice of the memory manager a turn needs.
type Memory interface {
	StartSession(ctx context.Context, userID string) (string, error)
	SessionOwner(ctx context.Context, sessionID string) (string, error)
	PrimaryTicker(ctx context.Context, sessionID string) (string, error)
	DefaultTicker(ctx context.Context, userID string) (string, error)
	SetPrimaryTicker(ctx context.Context, sessionID, ticker string) error
	AppendTurn(ctx context.Context, sessionID string, turn dommem.Turn) error
	SaveAnalysis(ctx context.Context, userID string, a dommem.AnalysisSummary) error
}
