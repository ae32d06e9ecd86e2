package chi

import (
	"encoding/json"
	"time"

	"github.com/kailas-cloud/filingbrief/internal/domain/brief"
	dombatch "github.com/kailas-cloud/filingbrief/internal/domain/batch"
	dommem "github.com/kailas-cloud/filingbrief/internal/domain/memory"
	domusage "github.com/kailas-cloud/filingbrief/internal/domain/usage"
	analysisuc "github.com/kailas-cloud/filingbrief/internal/usecase/analysis"
)

// ErrorCode is the machine-readable error code of an API error.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeUnauthorized     ErrorCode = "unauthorized"
	CodeForbidden        ErrorCode = "forbidden"
	CodeValidationFailed ErrorCode = "validation_failed"
	CodeNotFound         ErrorCode = "not_found"
	CodeAmbiguousScope   ErrorCode = "ambiguous_scope"
	CodeAuditFailed      ErrorCode = "audit_failed"
	CodeMemoryUnavail    ErrorCode = "memory_unavailable"
	CodeBudgetExceeded   ErrorCode = "token_budget_exceeded"
	CodeRateLimited      ErrorCode = "rate_limited"
	CodeProviderError    ErrorCode = "upstream_provider_error"
	CodeTimeout          ErrorCode = "timeout"
	CodeInternal         ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error body. Stage is set for pipeline failures.
type ErrorResponse struct {
	Code    ErrorCode     `json:"code"`
	Stage   string        `json:"stage,omitempty"`
	Message string        `json:"message"`
	Brief   *BriefPayload `json:"brief,omitempty"`
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type briefRequest struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	NewSession bool   `json:"new_session"`
	Query      string `json:"query"`
}

// BriefPayload is the JSON rendering of a brief.
type BriefPayload struct {
	Title       string           `json:"title"`
	GeneratedAt time.Time        `json:"generated_at"`
	Markdown    string           `json:"markdown"`
	Tickers     []string         `json:"tickers"`
	Sources     []sourcePayload  `json:"sources"`
	Findings    []findingPayload `json:"findings"`
	Warnings    []string         `json:"warnings"`
}

type sourcePayload struct {
	Label   string `json:"label"`
	ChunkID string `json:"chunk_id"`
}

type findingPayload struct {
	Kind     string `json:"kind"`
	Location string `json:"location"`
	ChunkID  string `json:"chunk_id,omitempty"`
	Detail   string `json:"detail"`
}

type briefResponse struct {
	TurnID    string       `json:"turn_id"`
	SessionID string       `json:"session_id,omitempty"`
	Stateless bool         `json:"stateless"`
	Usage     usagePayload `json:"usage"`
	Brief     BriefPayload `json:"brief"`
}

type usagePayload struct {
	EmbeddingTokens int `json:"embedding_tokens"`
	LLMTokens       int `json:"llm_tokens"`
}

type memoryRecordResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type historyResponse struct {
	SessionID string        `json:"session_id"`
	Turns     []dommem.Turn `json:"turns"`
}

type sweepResponse struct {
	Evicted int `json:"evicted"`
}

type ingestChunk struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	Ticker       string `json:"ticker"`
	FiscalYear   int    `json:"fiscal_year"`
	Section      string `json:"section"`
	SourceOffset int    `json:"source_offset"`
}

type ingestRequest struct {
	Chunks []ingestChunk `json:"chunks"`
}

type ingestItemResult struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

type ingestResponse struct {
	Ingested int                `json:"ingested"`
	Rejected int                `json:"rejected"`
	Failed   int                `json:"failed"`
	Items    []ingestItemResult `json:"items"`
}

type usageLine struct {
	Kind      string `json:"kind"`
	Provider  string `json:"provider"`
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Exhausted bool   `json:"exhausted"`
}

type usageResponse struct {
	Period    string      `json:"period"`
	StartAt   time.Time   `json:"period_start_at"`
	ResetsAt  time.Time   `json:"resets_at"`
	TotalUsed int64       `json:"total_used"`
	Lines     []usageLine `json:"lines"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func briefToPayload(b brief.Brief) BriefPayload {
	p := BriefPayload{
		Title:       b.Title,
		GeneratedAt: b.GeneratedAt,
		Markdown:    b.Markdown(),
		Tickers:     b.Tickers(),
		Sources:     make([]sourcePayload, len(b.Sources)),
		Findings:    make([]findingPayload, len(b.Findings)),
		Warnings:    append([]string{}, b.Warnings...),
	}
	for i, c := range b.Sources {
		p.Sources[i] = sourcePayload{Label: c.Label(), ChunkID: c.ChunkID()}
	}
	for i, f := range b.Findings {
		p.Findings[i] = findingPayload{
			Kind:     string(f.Kind),
			Location: f.Location.String(),
			ChunkID:  f.ChunkID,
			Detail:   f.Detail,
		}
	}
	return p
}

func resultToResponse(res analysisuc.Result) briefResponse {
	return briefResponse{
		TurnID:    res.TurnID,
		SessionID: res.SessionID,
		Stateless: res.Stateless,
		Usage: usagePayload{
			EmbeddingTokens: res.Usage.EmbeddingTokens,
			LLMTokens:       res.Usage.LLMTokens,
		},
		Brief: briefToPayload(res.Brief),
	}
}

func recordToResponse(r dommem.Record) memoryRecordResponse {
	return memoryRecordResponse{Key: r.Key(), Value: r.Value(), UpdatedAt: r.TouchedAt()}
}

func usageToResponse(r domusage.Report) usageResponse {
	lines := make([]usageLine, len(r.Lines()))
	for i, l := range r.Lines() {
		lines[i] = usageLine{
			Kind:      l.Kind(),
			Provider:  l.Provider(),
			Limit:     l.Limit(),
			Used:      l.Used(),
			Remaining: l.Remaining(),
			Exhausted: l.Exhausted(),
		}
	}
	return usageResponse{
		Period:    string(r.Period()),
		StartAt:   r.Start(),
		ResetsAt:  r.End(),
		TotalUsed: r.TotalUsed(),
		Lines:     lines,
	}
}

func ingestToResponse(results []dombatch.Result) ingestResponse {
	n := dombatch.Tally(results)
	resp := ingestResponse{
		Ingested: n.Stored,
		Rejected: n.Rejected,
		Failed:   n.Failed,
		Items:    make([]ingestItemResult, len(results)),
	}
	for i, r := range results {
		item := ingestItemResult{ID: r.ID(), Status: string(r.Status())}
		if !r.Stored() {
			_, code := classify(r.Err())
			item.Error = &ErrorResponse{Code: code, Message: safeDomainMessage(r.Err())}
		}
		resp.Items[i] = item
	}
	return resp
}
