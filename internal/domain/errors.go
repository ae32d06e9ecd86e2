package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrChunkNotFound signals a chunk id that the document store does not hold.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrInvalidRequest signals malformed user input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidChunk signals a chunk that fails validation on ingest.
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrInvalidScope signals a malformed retrieval scope.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrAmbiguousScope signals that no primary ticker could be resolved for a query.
	ErrAmbiguousScope = errors.New("ambiguous scope")
	// ErrNoEvidence signals that retrieval produced no candidates for a sub-query.
	ErrNoEvidence = errors.New("no evidence found")
	// ErrRetrievalTimeout signals a sub-query whose network-bound work exceeded its deadline.
	ErrRetrievalTimeout = errors.New("retrieval timeout")
	// ErrMemoryStoreUnavailable signals an unreachable memory backend.
	ErrMemoryStoreUnavailable = errors.New("memory store unavailable")
	// ErrAuditFailed signals audit findings under the hard-fail policy.
	ErrAuditFailed = errors.New("audit failed")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrTokenBudgetExceeded signals an exhausted token budget.
	ErrTokenBudgetExceeded = errors.New("token budget exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrLLMProviderError signals an LLM completion failure.
	ErrLLMProviderError = errors.New("llm provider error")
	// ErrMarketDataUnavailable signals a failed market snapshot fetch.
	ErrMarketDataUnavailable = errors.New("market data unavailable")
)

// Stage names a pipeline stage for user-facing failures.
type Stage string

// Pipeline stages.
const (
	StageMemory    Stage = "memory"
	StagePlan      Stage = "plan"
	StageRetrieval Stage = "retrieval"
	StageSynthesis Stage = "synthesis"
	StageAudit     Stage = "audit"
)

// StageError is the structured failure returned to users: which stage failed and why.
type StageError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with the failing stage and a user-facing message.
func NewStageError(stage Stage, message string, err error) error {
	return &StageError{Stage: stage, Message: message, Err: err}
}
