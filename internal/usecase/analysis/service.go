// Package analysis runs one analysis turn end to end: memory lookup, planning,
// parallel retrieval and re-ranking, market data, synthesis, audit and the final
// memory update.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/brief"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
	dommem "github.com/kailas-cloud/filingbrief/internal/domain/memory"
	"github.com/kailas-cloud/filingbrief/internal/domain/query"
	"github.com/kailas-cloud/filingbrief/internal/logger"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
	"github.com/kailas-cloud/filingbrief/internal/usecase/planner"
	"github.com/kailas-cloud/filingbrief/internal/usecase/synthesis"
)

const (
	// DefaultConcurrency bounds sub-queries retrieved at once.
	DefaultConcurrency = 4
	// DefaultSubQueryTimeout bounds one sub-query's retrieval and re-rank.
	DefaultSubQueryTimeout = 20 * time.Second

	maxQueryLength = 2000

	clarification = "Which company do you mean? Name a ticker (for example NVDA or $AMD)."
)

// Request is one user question.
type Request struct {
	UserID     string
	SessionID  string
	NewSession bool
	Query      string
}

// Usage is the token spend of one turn.
type Usage struct {
	EmbeddingTokens int
	LLMTokens       int
}

// Result is a finished turn. Stateless is set when memory could not be reached.
type Result struct {
	TurnID    string
	SessionID string
	Brief     brief.Brief
	Stateless bool
	Usage     Usage
}

// Service orchestrates analysis turns.
type Service struct {
	memory      Memory
	planner     Planner
	retriever   Retriever
	reranker    Reranker
	synthesizer Synthesizer
	auditor     Auditor
	market      MarketData
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSubQueryTimeout overrides DefaultSubQueryTimeout.
func WithSubQueryTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMarketData enables live market snapshots. Without it briefs carry no market block.
func WithMarketData(m MarketData) Option {
	return func(s *Service) { s.market = m }
}

// New creates the orchestrator.
func New(
	memory Memory, pl Planner, retriever Retriever, reranker Reranker,
	synthesizer Synthesizer, auditor Auditor, logger *zap.Logger, opts ...Option,
) *Service {
	s := &Service{
		memory:      memory,
		planner:     pl,
		retriever:   retriever,
		reranker:    reranker,
		synthesizer: synthesizer,
		auditor:     auditor,
		concurrency: DefaultConcurrency,
		timeout:     DefaultSubQueryTimeout,
		logger:      logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// turn carries the per-turn state between stages.
type turn struct {
	req       Request
	id        string
	sessionID string
	stateless bool
	warnings  []string
	primary   string
	fallback  string
}

// Run executes one turn. Failures are *domain.StageError. When the audit fails
// under the hard-fail policy the annotated brief is returned with the error.
//
//nolint:funlen // stages read top to bottom
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" || len(req.Query) > maxQueryLength {
		return Result{}, domain.NewStageError(domain.StagePlan,
			fmt.Sprintf("query must be 1-%d characters", maxQueryLength), domain.ErrInvalidRequest)
	}
	if err := dommem.ValidateOwner(req.UserID); err != nil {
		return Result{}, domain.NewStageError(domain.StageMemory, "invalid user id",
			fmt.Errorf("%v: %w", err, domain.ErrInvalidRequest))
	}

	t := &turn{req: req, id: uuid.NewString()}
	ctx, log := logger.WithFields(logger.WithDefault(ctx, s.logger), zap.String("turn_id", t.id), zap.String("user_id", req.UserID))
	ctx, usage := domain.NewContextWithUsage(ctx)

	res, outcome, err := s.run(ctx, t)
	res.TurnID = t.id
	res.SessionID = t.sessionID
	res.Stateless = t.stateless
	emb, llm := usage.Totals()
	res.Usage = Usage{EmbeddingTokens: emb, LLMTokens: llm}

	duration := time.Since(start)
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.Observe(duration.Seconds())

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.String("session_id", t.sessionID),
		zap.Bool("stateless", t.stateless),
		zap.Int("findings", len(res.Brief.Findings)),
		zap.Int("no_evidence_blocks", res.Brief.NoEvidenceBlocks()),
		zap.Int("sources", len(res.Brief.Sources)),
		zap.Int("embedding_tokens", emb),
		zap.Int("llm_tokens", llm),
		zap.Duration("duration", duration),
	}
	if err != nil {
		log.Warn("analysis_turn", append(fields, zap.Error(err))...)
	} else {
		log.Info("analysis_turn", fields...)
	}
	return res, err
}

func (s *Service) run(ctx context.Context, t *turn) (Result, string, error) {
	if err := s.loadMemory(ctx, t); err != nil {
		return Result{}, "error", err
	}

	subs, err := s.planner.Plan(ctx, t.req.Query, planner.SessionContext{
		TurnID:        t.id,
		PrimaryTicker: t.primary,
		DefaultTicker: t.fallback,
	})
	if errors.Is(err, domain.ErrAmbiguousScope) {
		return Result{}, "ambiguous_scope", domain.NewStageError(domain.StagePlan, clarification, err)
	}
	if err != nil {
		return Result{}, "error", domain.NewStageError(domain.StagePlan, "could not plan the query", err)
	}

	evidence, markets, err := s.gather(ctx, t, subs)
	if err != nil {
		return Result{}, "canceled", domain.NewStageError(domain.StageRetrieval, "turn canceled", err)
	}

	b, err := s.synthesizer.Synthesize(ctx, synthesis.Input{
		Query:    t.req.Query,
		Evidence: evidence,
		Markets:  markets,
		Warnings: t.warnings,
	})
	if err != nil {
		return Result{}, outcomeOf(ctx, "error"), domain.NewStageError(domain.StageSynthesis, "could not draft the brief", err)
	}

	audited, err := s.auditor.Apply(ctx, b)
	if errors.Is(err, domain.ErrAuditFailed) {
		return Result{Brief: audited}, "audit_failed",
			domain.NewStageError(domain.StageAudit, "the brief failed verification", err)
	}
	if err != nil {
		return Result{}, outcomeOf(ctx, "error"), domain.NewStageError(domain.StageAudit, "could not verify the brief", err)
	}
	if ctx.Err() != nil {
		return Result{}, "canceled", domain.NewStageError(domain.StageAudit, "turn canceled", ctx.Err())
	}

	s.saveMemory(ctx, t, subs, &audited)
	return Result{Brief: audited}, "ok", nil
}

// loadMemory resolves the session and the ticker fallbacks. Only sessions issued
// to the caller are continued. An unreachable store makes the turn stateless;
// it never fails it.
func (s *Service) loadMemory(ctx context.Context, t *turn) error {
	log := logger.FromContext(ctx)
	degrade := func(err error) {
		log.Warn("memory unavailable, running stateless", zap.Error(err))
		t.stateless = true
		t.primary, t.fallback = "", ""
		t.warnings = append(t.warnings, "Memory store unavailable; this answer does not use or update conversation context.")
	}

	if t.req.NewSession || t.req.SessionID == "" {
		id, err := s.memory.StartSession(ctx, t.req.UserID)
		if err != nil {
			if errors.Is(err, domain.ErrMemoryStoreUnavailable) {
				degrade(err)
				return nil
			}
			return domain.NewStageError(domain.StageMemory, "could not start a session", err)
		}
		t.sessionID = id
	} else {
		t.sessionID = t.req.SessionID
		owner, err := s.memory.SessionOwner(ctx, t.sessionID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return domain.NewStageError(domain.StageMemory, "session not found or expired", err)
		case errors.Is(err, domain.ErrMemoryStoreUnavailable):
			degrade(err)
			return nil
		case err != nil:
			return domain.NewStageError(domain.StageMemory, "invalid session id",
				fmt.Errorf("%v: %w", err, domain.ErrInvalidRequest))
		case owner != t.req.UserID:
			return domain.NewStageError(domain.StageMemory, "session belongs to another user", domain.ErrNotFound)
		}
	}

	var err error
	if t.primary, err = s.memory.PrimaryTicker(ctx, t.sessionID); err != nil {
		degrade(err)
		return nil
	}
	if t.fallback, err = s.memory.DefaultTicker(ctx, t.req.UserID); err != nil {
		degrade(err)
	}
	return nil
}

// gather retrieves every sub-query in parallel, writing into a slice indexed by
// planner order, while market snapshots are fetched alongside. Only parent
// cancellation is an error.
func (s *Service) gather(ctx context.Context, t *turn, subs []query.SubQuery) ([]synthesis.Evidence, []market.Snapshot, error) {
	evidence := make([]synthesis.Evidence, len(subs))
	warnings := make([][]string, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var (
		markets     []market.Snapshot
		marketWarns []string
		marketDone  = make(chan struct{})
	)
	go func() {
		defer close(marketDone)
		markets, marketWarns = s.fetchMarkets(ctx, tickersOf(subs))
	}()

	for i, sq := range subs {
		g.Go(func() error {
			ev, warns, err := s.retrieveOne(gctx, sq)
			if err != nil {
				return err
			}
			evidence[i] = ev
			warnings[i] = warns
			return nil
		})
	}
	err := g.Wait()
	<-marketDone
	if err != nil {
		return nil, nil, err
	}
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	for _, w := range warnings {
		t.warnings = append(t.warnings, w...)
	}
	t.warnings = append(t.warnings, marketWarns...)
	return evidence, markets, nil
}

// retrieveOne degrades timeouts and backend failures to a no-evidence gap.
func (s *Service) retrieveOne(ctx context.Context, sq query.SubQuery) (synthesis.Evidence, []string, error) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	log := logger.FromContext(ctx).With(zap.Int("subquery", sq.Index()), zap.String("text", sq.Text()))

	res, err := s.retriever.Retrieve(sctx, sq)
	if err != nil {
		if ctx.Err() != nil {
			return synthesis.Evidence{}, nil, ctx.Err()
		}
		gap, outcome := "retrieval failed", "error"
		if errors.Is(err, domain.ErrRetrievalTimeout) || errors.Is(err, context.DeadlineExceeded) {
			gap, outcome = "retrieval timed out", "timeout"
		}
		metrics.SubQueriesTotal.WithLabelValues(outcome).Inc()
		log.Warn("sub-query degraded to no evidence", zap.String("reason", gap), zap.Error(err))
		return synthesis.Evidence{SubQuery: sq, Gap: gap},
			[]string{fmt.Sprintf("%q: %s; shown as an evidence gap.", sq.Text(), gap)}, nil
	}

	ranked := s.reranker.Rerank(sctx, sq, res.Candidates)
	if len(ranked) == 0 {
		metrics.SubQueriesTotal.WithLabelValues("no_evidence").Inc()
	} else {
		metrics.SubQueriesTotal.WithLabelValues("evidence").Inc()
	}

	warns := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warns = append(warns, fmt.Sprintf("%q: %s", sq.Text(), w))
	}
	return synthesis.Evidence{SubQuery: sq, Candidates: ranked}, warns, nil
}

// fetchMarkets returns snapshots in ticker order; failed tickers become warnings.
func (s *Service) fetchMarkets(ctx context.Context, tickers []string) ([]market.Snapshot, []string) {
	if s.market == nil {
		return nil, nil
	}
	snaps := make([]*market.Snapshot, len(tickers))
	errs := make([]error, len(tickers))
	var wg sync.WaitGroup
	for i, tk := range tickers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := s.market.Snapshot(ctx, tk)
			if err != nil {
				errs[i] = err
				return
			}
			snaps[i] = &snap
		}()
	}
	wg.Wait()

	var out []market.Snapshot
	var warns []string
	for i, tk := range tickers {
		if errs[i] != nil {
			logger.FromContext(ctx).Warn("market snapshot failed", zap.String("ticker", tk), zap.Error(errs[i]))
			warns = append(warns, fmt.Sprintf("Market data unavailable for %s.", tk))
			continue
		}
		out = append(out, *snaps[i])
	}
	return out, warns
}

// saveMemory records the finished turn. Failures are logged and surfaced as a
// warning on the brief; the answer itself stands.
func (s *Service) saveMemory(ctx context.Context, t *turn, subs []query.SubQuery, b *brief.Brief) {
	if t.stateless {
		return
	}
	log := logger.FromContext(ctx)
	tickers := tickersOf(subs)
	now := b.GeneratedAt
	summary := summaryText(*b)

	var errs []error
	if len(tickers) > 0 {
		errs = append(errs, s.memory.SetPrimaryTicker(ctx, t.sessionID, tickers[0]))
	}
	errs = append(errs, s.memory.AppendTurn(ctx, t.sessionID, dommem.Turn{
		Query:     t.req.Query,
		Summary:   summary,
		Tickers:   tickers,
		Timestamp: now,
	}))
	for _, tk := range tickers {
		errs = append(errs, s.memory.SaveAnalysis(ctx, t.req.UserID, dommem.AnalysisSummary{
			Query:       t.req.Query,
			Ticker:      tk,
			Summary:     summary,
			Findings:    len(b.Findings),
			GeneratedAt: now,
		}))
	}

	if err := errors.Join(errs...); err != nil {
		log.Warn("memory update failed", zap.Error(err))
		b.Warnings = append(b.Warnings, "Conversation memory could not be updated for this turn.")
	}
}

func tickersOf(subs []query.SubQuery) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, sq := range subs {
		tk := sq.Scope().Ticker()
		if _, ok := seen[tk]; ok {
			continue
		}
		seen[tk] = struct{}{}
		out = append(out, tk)
	}
	return out
}

func summaryText(b brief.Brief) string {
	for _, s := range b.Summary {
		if s.Kind == brief.Fact {
			return s.Text
		}
	}
	if len(b.Summary) > 0 {
		return b.Summary[0].Text
	}
	return b.Title
}

func outcomeOf(ctx context.Context, fallback string) string {
	if ctx.Err() != nil {
		return "canceled"
	}
	return fallback
}
