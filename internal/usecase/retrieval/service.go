// Package retrieval runs hybrid dense + sparse search for one sub-query and fuses
// the two rankings with RRF.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/candidate"
	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	"github.com/kailas-cloud/filingbrief/internal/domain/query"
	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
	"github.com/kailas-cloud/filingbrief/internal/logger"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

// Result is the fused evidence for one sub-query. Warnings name degraded paths.
type Result struct {
	Candidates []candidate.Candidate
	Warnings   []string
}

// Service is the hybrid retriever.
type Service struct {
	backend Backend
	name    string
	topN    int
	rrfK    int
}

// New creates a retriever. name labels metrics ("redis", "local").
func New(backend Backend, name string, topN, rrfK int) *Service {
	if rrfK <= 0 {
		rrfK = candidate.DefaultRRFK
	}
	return &Service{backend: backend, name: name, topN: topN, rrfK: rrfK}
}

type pathResult struct {
	hits []chunk.Scored
	err  error
}

// Retrieve runs both paths concurrently. One failing path degrades to the other;
// both failing is an error, reported as domain.ErrRetrievalTimeout when the
// deadline expired. An empty result is not an error.
func (s *Service) Retrieve(ctx context.Context, q query.SubQuery) (Result, error) {
	log := logger.FromContext(ctx).With(
		zap.Int("subquery", q.Index()),
		zap.String("ticker", q.Scope().Ticker()),
	)

	var dense, sparse pathResult
	var g errgroup.Group
	g.Go(func() error {
		dense = s.runPath(ctx, "dense", s.backend.Dense, q)
		return nil
	})
	g.Go(func() error {
		sparse = s.runPath(ctx, "sparse", s.backend.Sparse, q)
		return nil
	})
	_ = g.Wait()

	var res Result
	switch {
	case dense.err != nil && sparse.err != nil:
		err := errors.Join(dense.err, sparse.err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("retrieve %q: %w", q.Text(), domain.ErrRetrievalTimeout)
		}
		return Result{}, fmt.Errorf("retrieve %q: %w", q.Text(), err)
	case dense.err != nil:
		log.Warn("Dense retrieval failed, using sparse only", zap.Error(dense.err))
		res.Warnings = append(res.Warnings, fmt.Sprintf("dense retrieval unavailable for %q", q.Text()))
	case sparse.err != nil:
		log.Warn("Sparse retrieval failed, using dense only", zap.Error(sparse.err))
		res.Warnings = append(res.Warnings, fmt.Sprintf("keyword retrieval unavailable for %q", q.Text()))
	}

	fused, err := Fuse(s.inScope(log, q, dense.hits), s.inScope(log, q, sparse.hits), s.rrfK)
	if err != nil {
		return Result{}, err
	}
	res.Candidates = fused

	log.Debug("Retrieved candidates",
		zap.Int("dense", len(dense.hits)),
		zap.Int("sparse", len(sparse.hits)),
		zap.Int("fused", len(fused)),
	)
	return res, nil
}

func (s *Service) runPath(
	ctx context.Context, path string,
	fn func(context.Context, scope.Scope, string, int) ([]chunk.Scored, error),
	q query.SubQuery,
) pathResult {
	start := time.Now()
	hits, err := fn(ctx, q.Scope(), q.Text(), s.topN)
	metrics.RetrievalDuration.WithLabelValues(s.name, path).Observe(time.Since(start).Seconds())
	return pathResult{hits: hits, err: err}
}

// inScope drops hits the backend returned outside the sub-query scope.
func (s *Service) inScope(log *zap.Logger, q query.SubQuery, hits []chunk.Scored) []chunk.Scored {
	out := hits[:0:0]
	for _, h := range hits {
		if !q.Scope().Contains(h.Chunk) {
			metrics.ScopeViolationsTotal.WithLabelValues(s.name).Inc()
			log.Warn("Dropped out-of-scope hit",
				zap.String("chunk_id", h.Chunk.ID()),
				zap.String("chunk_ticker", h.Chunk.Ticker()),
				zap.Int("chunk_year", h.Chunk.FiscalYear()),
			)
			continue
		}
		out = append(out, h)
	}
	return out
}
