// Package rerank re-orders fused candidates with a finer relevance scorer.
package rerank

import (
	"context"
	"errors"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain/candidate"
	"github.com/kailas-cloud/filingbrief/internal/domain/query"
	"github.com/kailas-cloud/filingbrief/internal/logger"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

var errScoreCount = errors.New("scorer returned wrong number of scores")

// Service re-ranks the fused top pool and keeps the best finalK.
type Service struct {
	scorer Scorer
	pool   int
	finalK int
}

// New creates a re-ranker. A nil scorer always passes fused order through.
func New(scorer Scorer, pool, finalK int) *Service {
	if pool < finalK {
		pool = finalK
	}
	return &Service{scorer: scorer, pool: pool, finalK: finalK}
}

// Rerank scores the top pool candidates (input is fused order) and returns at most
// finalK, sorted by rerank desc, fused desc, chunk id asc. Scorer failures fall back to
// fused order.
func (s *Service) Rerank(ctx context.Context, q query.SubQuery, cands []candidate.Candidate) []candidate.Candidate {
	if len(cands) == 0 {
		return nil
	}
	pool := cands
	if len(pool) > s.pool {
		pool = pool[:s.pool]
	}

	if s.scorer == nil {
		metrics.RerankFallbackTotal.WithLabelValues("no_scorer").Inc()
		return s.truncate(pool)
	}

	passages := make([]string, len(pool))
	for i, c := range pool {
		passages[i] = c.Chunk().Text()
	}

	scores, err := s.scorer.Score(ctx, q.Text(), passages)
	if err == nil && len(scores) != len(pool) {
		err = errScoreCount
	}
	if err != nil {
		metrics.RerankFallbackTotal.WithLabelValues("scorer_error").Inc()
		logger.FromContext(ctx).Warn("Re-rank failed, keeping fused order",
			zap.Int("subquery", q.Index()),
			zap.Error(err),
		)
		return s.truncate(pool)
	}

	out := make([]candidate.Candidate, 0, len(pool))
	for i, c := range pool {
		score := scores[i]
		if math.IsNaN(score) || math.IsInf(score, 0) {
			score = 0
		}
		rc, err := c.WithRerank(score)
		if err != nil {
			rc = c
		}
		out = append(out, rc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, _ := out[i].Rerank()
		rj, _ := out[j].Rerank()
		if ri != rj {
			return ri > rj
		}
		if out[i].Fused() != out[j].Fused() {
			return out[i].Fused() > out[j].Fused()
		}
		return out[i].ChunkID() < out[j].ChunkID()
	})
	return s.truncate(out)
}

func (s *Service) truncate(cands []candidate.Candidate) []candidate.Candidate {
	out := append([]candidate.Candidate(nil), cands...)
	if len(out) > s.finalK {
		out = out[:s.finalK]
	}
	return out
}
