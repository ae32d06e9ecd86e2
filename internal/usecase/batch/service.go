// Package batch loads filing chunks produced by the external ingester: it
// validates them, embeds them in one batch and stores them in one pipeline.
package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	dombatch "github.com/kailas-cloud/filingbrief/internal/domain/batch"
	domchunk "github.com/kailas-cloud/filingbrief/internal/domain/chunk"
)

// MaxBatchSize is the maximum number of chunks per ingest request.
const MaxBatchSize = 100

// Item is one chunk as submitted by the ingester.
type Item struct {
	ID           string
	Text         string
	Ticker       string
	FiscalYear   int
	Section      string
	SourceOffset int
}

// Service ingests chunks with per-item error reporting.
type Service struct {
	chunks       ChunkWriter
	embed        domain.Embedder
	logger       *zap.Logger
	maxBatchSize int
}

// New creates an ingest service. embed should be the document-side embedder.
func New(chunks ChunkWriter, embed domain.Embedder, logger *zap.Logger) *Service {
	return &Service{
		chunks:       chunks,
		embed:        embed,
		logger:       logger,
		maxBatchSize: MaxBatchSize,
	}
}

// WithMaxBatchSize configures the maximum batch size.
func (s *Service) WithMaxBatchSize(size int) *Service {
	if size > 0 {
		s.maxBatchSize = size
	}
	return s
}

// MaxBatchSize returns the configured limit.
func (s *Service) MaxBatchSize() int { return s.maxBatchSize }

// Ingest validates, embeds and stores items. The returned slice has one result per
// item, in input order. An error is returned only for request-level failures.
func (s *Service) Ingest(ctx context.Context, items []Item) ([]dombatch.Result, error) {
	if len(items) == 0 || len(items) > s.maxBatchSize {
		return nil, fmt.Errorf("batch must hold 1..%d chunks, got %d: %w",
			s.maxBatchSize, len(items), domain.ErrInvalidChunk)
	}

	if err := s.chunks.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("ensure chunk index: %w", err)
	}

	results := make([]dombatch.Result, len(items))
	valid := make([]domchunk.Chunk, 0, len(items))
	validIdx := make([]int, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for i, it := range items {
		if _, dup := seen[it.ID]; dup && it.ID != "" {
			results[i] = dombatch.Rejected(it.ID, fmt.Errorf("duplicate id in batch: %w", domain.ErrInvalidChunk))
			continue
		}
		c, err := domchunk.New(it.ID, it.Text, it.Ticker, it.FiscalYear, it.Section, it.SourceOffset)
		if err != nil {
			results[i] = dombatch.Rejected(it.ID, fmt.Errorf("%v: %w", err, domain.ErrInvalidChunk))
			continue
		}
		seen[it.ID] = struct{}{}
		valid = append(valid, c)
		validIdx = append(validIdx, i)
	}

	if len(valid) == 0 {
		return results, nil
	}

	failAll := func(err error) []dombatch.Result {
		for _, i := range validIdx {
			results[i] = dombatch.Failed(items[i].ID, err)
		}
		return results
	}

	vectors, err := s.vectorize(ctx, valid)
	if err != nil {
		s.logger.Warn("chunk embedding failed", zap.Int("chunks", len(valid)), zap.Error(err))
		return failAll(err), nil
	}

	embedded := make([]domchunk.Embedded, len(valid))
	for i, c := range valid {
		embedded[i] = domchunk.Embedded{Chunk: c, Vector: vectors[i]}
	}
	if err := s.chunks.Upsert(ctx, embedded); err != nil {
		s.logger.Error("chunk upsert failed", zap.Int("chunks", len(valid)), zap.Error(err))
		return failAll(fmt.Errorf("upsert: %w", err)), nil
	}

	for _, i := range validIdx {
		results[i] = dombatch.Stored(items[i].ID)
	}
	s.logger.Info("chunks ingested", zap.Int("ok", len(valid)), zap.Int("rejected", len(items)-len(valid)))
	return results, nil
}

// vectorize embeds every chunk text in one call, falling back to per-item Embed.
func (s *Service) vectorize(ctx context.Context, chunks []domchunk.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text()
	}

	res, err := domain.EmbedAll(ctx, s.embed, texts)
	if err != nil {
		return nil, fmt.Errorf("vectorize: %w", err)
	}
	domain.UsageFromContext(ctx).AddEmbeddingTokens(res.TotalTokens)
	return res.Embeddings, nil
}
