// Package chunk stores 10-K filing chunks as Redis hashes behind an FT index
// and serves scoped listing, lookup and server-side KNN/BM25 search.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/filingbrief/internal/db"
	"github.com/kailas-cloud/filingbrief/internal/domain"
	domchunk "github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	"github.com/kailas-cloud/filingbrief/internal/domain/filter"
	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
)

const defaultPageSize = 500

// store is the consumer interface for chunks (ISP).
//
//nolint:interfacebloat // chunk repo needs hash, index and search operations
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
}

// Repo implements the document store over a Redis FT index.
type Repo struct {
	store     store
	indexName string
	keyPrefix string
	vectorDim int
	hnsw      HNSWConfig
	pageSize  int
}

// New creates a chunk repository. Keys live under {prefix}chunk: and the
// index is {prefix}chunks:idx.
func New(s store, prefix string, vectorDim int) *Repo {
	return &Repo{
		store:     s,
		indexName: prefix + "chunks:idx",
		keyPrefix: prefix + "chunk:",
		vectorDim: vectorDim,
		hnsw:      HNSWConfig{M: 16, EFConstruct: 200},
		pageSize:  defaultPageSize,
	}
}

// WithHNSW configures HNSW index parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// IndexName returns the FT index name.
func (r *Repo) IndexName() string { return r.indexName }

// EnsureIndex creates the FT index when it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.indexName, err)
	}
	if exists {
		return nil
	}

	def, err := buildIndex(r.indexName, r.keyPrefix, r.vectorDim, r.hnsw)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", r.indexName, err)
	}
	return nil
}

// Upsert stores chunks with their vectors in one pipelined round-trip.
func (r *Repo) Upsert(ctx context.Context, items []domchunk.Embedded) error {
	if len(items) == 0 {
		return nil
	}
	batch := make([]db.HashSetItem, len(items))
	for i, it := range items {
		if len(it.Vector) != r.vectorDim {
			return fmt.Errorf("chunk %s: vector has %d dims, index expects %d",
				it.Chunk.ID(), len(it.Vector), r.vectorDim)
		}
		batch[i] = db.HashSetItem{Key: r.key(it.Chunk.ID()), Fields: buildHashFields(it.Chunk, it.Vector)}
	}
	if err := r.store.HSetMulti(ctx, batch); err != nil {
		return fmt.Errorf("store %d chunks: %w", len(items), err)
	}
	return nil
}

// Get returns a chunk by id, or domain.ErrChunkNotFound.
func (r *Repo) Get(ctx context.Context, id string) (domchunk.Chunk, error) {
	m, err := r.store.HGetAll(ctx, r.key(id))
	if err != nil {
		return domchunk.Chunk{}, fmt.Errorf("hgetall chunk %s: %w", id, err)
	}
	if len(m) == 0 {
		return domchunk.Chunk{}, fmt.Errorf("chunk %s: %w", id, domain.ErrChunkNotFound)
	}
	return parseHashFields(id, m)
}

// QueryChunks lists every chunk inside the scope, paging through the index.
func (r *Repo) QueryChunks(ctx context.Context, sc scope.Scope) ([]domchunk.Chunk, error) {
	expr, err := ScopeFilter(sc)
	if err != nil {
		return nil, err
	}

	var out []domchunk.Chunk
	for offset := 0; ; offset += r.pageSize {
		sr, err := r.store.SearchList(ctx, &db.ListQuery{
			IndexName:    r.indexName,
			Filters:      expr,
			SortBy:       fieldFiscalYear,
			Offset:       offset,
			Limit:        r.pageSize,
			ReturnFields: metaFields,
		})
		if err != nil {
			return nil, fmt.Errorf("list chunks for %s: %w", sc.Ticker(), err)
		}
		page, err := r.parseEntries(sr)
		if err != nil {
			return nil, err
		}
		for _, s := range page {
			out = append(out, s.Chunk)
		}
		if len(sr.Entries) < r.pageSize || offset+r.pageSize >= sr.Total {
			break
		}
	}
	return out, nil
}

// SearchDense runs server-side KNN restricted to the scope.
func (r *Repo) SearchDense(
	ctx context.Context, sc scope.Scope, vector []float32, n int,
) ([]domchunk.Scored, error) {
	expr, err := ScopeFilter(sc)
	if err != nil {
		return nil, err
	}
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName,
		VectorField:  fieldVector,
		Filters:      expr,
		Vector:       vector,
		K:            n,
		ReturnFields: metaFields,
	})
	if err != nil {
		return nil, fmt.Errorf("knn search %s: %w", sc.Ticker(), err)
	}
	return r.parseEntries(sr)
}

// SearchSparse runs server-side BM25 restricted to the scope.
func (r *Repo) SearchSparse(
	ctx context.Context, sc scope.Scope, text string, n int,
) ([]domchunk.Scored, error) {
	expr, err := ScopeFilter(sc)
	if err != nil {
		return nil, err
	}
	sr, err := r.store.SearchBM25(ctx, &db.TextQuery{
		IndexName:    r.indexName,
		TextField:    fieldText,
		Query:        text,
		Filters:      expr,
		TopK:         n,
		ReturnFields: metaFields,
	})
	if err != nil {
		return nil, fmt.Errorf("bm25 search %s: %w", sc.Ticker(), err)
	}
	return r.parseEntries(sr)
}

// ScopeFilter translates a scope into the FT pre-filter: ticker tag plus an
// optional fiscal year range. Topic is not a filter.
func ScopeFilter(sc scope.Scope) (filter.Expression, error) {
	ticker, err := filter.Tag(fieldTicker, sc.Ticker())
	if err != nil {
		return filter.Expression{}, fmt.Errorf("scope filter: %w", err)
	}
	if !sc.HasYears() {
		return filter.All(ticker)
	}
	years, err := filter.Between(fieldFiscalYear, float64(sc.YearFrom()), float64(sc.YearTo()))
	if err != nil {
		return filter.Expression{}, fmt.Errorf("scope filter: %w", err)
	}
	return filter.All(ticker, years)
}

func (r *Repo) parseEntries(sr *db.SearchResult) ([]domchunk.Scored, error) {
	if sr == nil || len(sr.Entries) == 0 {
		return nil, nil
	}
	out := make([]domchunk.Scored, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		id := strings.TrimPrefix(e.Key, r.keyPrefix)
		c, err := parseHashFields(id, e.Fields)
		if err != nil {
			return nil, err
		}
		out = append(out, domchunk.Scored{Chunk: c, Score: e.Score})
	}
	return out, nil
}

func (r *Repo) key(id string) string {
	return r.keyPrefix + id
}
