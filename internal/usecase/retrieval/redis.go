package retrieval

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
)

// RedisBackend runs KNN and BM25 inside the FT index with tag/numeric pre-filters.
type RedisBackend struct {
	repo  ChunkSearcher
	embed domain.Embedder
}

// NewRedisBackend creates the server-side backend. embed vectorizes query text.
func NewRedisBackend(repo ChunkSearcher, embed domain.Embedder) *RedisBackend {
	return &RedisBackend{repo: repo, embed: embed}
}

// Dense embeds the text and runs a scoped KNN search.
func (b *RedisBackend) Dense(ctx context.Context, sc scope.Scope, text string, n int) ([]chunk.Scored, error) {
	res, err := b.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	domain.UsageFromContext(ctx).AddEmbeddingTokens(res.TotalTokens)
	return b.repo.SearchDense(ctx, sc, res.Embedding, n)
}

// Sparse runs a scoped BM25 search.
func (b *RedisBackend) Sparse(ctx context.Context, sc scope.Scope, text string, n int) ([]chunk.Scored, error) {
	return b.repo.SearchSparse(ctx, sc, text, n)
}
