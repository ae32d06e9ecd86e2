// Package index scores filing chunks in-process. It backs the "local" retrieval
// backend: chunks come from the document store, vectors from the (cached) embedder.
package index

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
)

// ChunkSource lists every chunk inside a scope.
type ChunkSource interface {
	QueryChunks(ctx context.Context, sc scope.Scope) ([]chunk.Chunk, error)
}

// Index ranks chunks of one scope against a query.
type Index struct {
	src     ChunkSource
	docs    domain.Embedder
	queries domain.Embedder
	scorer  SparseScorer
	logger  *zap.Logger
}

// New creates an Index. docs embeds chunk text, queries embeds query text; they may be
// the same embedder when no instruction prefixes are configured.
func New(src ChunkSource, docs, queries domain.Embedder, scorer SparseScorer, logger *zap.Logger) *Index {
	if scorer == nil {
		scorer = NewBM25()
	}
	return &Index{src: src, docs: docs, queries: queries, scorer: scorer, logger: logger}
}

// Dense returns the top n chunks by cosine similarity to the query embedding.
func (x *Index) Dense(ctx context.Context, sc scope.Scope, text string, n int) ([]chunk.Scored, error) {
	chunks, err := x.src.QueryChunks(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	q, err := x.queries.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	domain.UsageFromContext(ctx).AddEmbeddingTokens(q.TotalTokens)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text()
	}
	vecs, err := x.embedDocs(ctx, texts)
	if err != nil {
		return nil, err
	}

	scored := make([]chunk.Scored, len(chunks))
	for i, c := range chunks {
		scored[i] = chunk.Scored{Chunk: c, Score: CosineSimilarity(q.Embedding, vecs[i])}
	}
	return topN(scored, n), nil
}

// Sparse returns the top n chunks by keyword relevance. Chunks matching no term are omitted.
func (x *Index) Sparse(ctx context.Context, sc scope.Scope, text string, n int) ([]chunk.Scored, error) {
	chunks, err := x.src.QueryChunks(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	terms := Tokenize(text)
	if len(chunks) == 0 || len(terms) == 0 {
		return nil, nil
	}

	docs := make([][]string, len(chunks))
	for i, c := range chunks {
		docs[i] = Tokenize(c.Text())
	}
	scores := x.scorer.Score(terms, docs)

	scored := make([]chunk.Scored, 0, len(chunks))
	for i, c := range chunks {
		if scores[i] > 0 {
			scored = append(scored, chunk.Scored{Chunk: c, Score: scores[i]})
		}
	}
	return topN(scored, n), nil
}

func (x *Index) embedDocs(ctx context.Context, texts []string) ([][]float32, error) {
	res, err := domain.EmbedAll(ctx, x.docs, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	domain.UsageFromContext(ctx).AddEmbeddingTokens(res.TotalTokens)
	x.logger.Debug("Embedded scope chunks", zap.Int("chunks", len(texts)), zap.Int("tokens", res.TotalTokens))
	return res.Embeddings, nil
}

// topN sorts by score desc, chunk id asc and truncates.
func topN(scored []chunk.Scored, n int) []chunk.Scored {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID() < scored[j].Chunk.ID()
	})
	if n > 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored
}
