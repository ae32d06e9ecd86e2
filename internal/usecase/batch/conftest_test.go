package batch

import (
	"context"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	domchunk "github.com/kailas-cloud/filingbrief/internal/domain/chunk"
)

type mockWriter struct {
	ensureErr error
	upsertErr error
	upserted  []domchunk.Embedded
	calls     int
}

func (m *mockWriter) EnsureIndex(_ context.Context) error { return m.ensureErr }

func (m *mockWriter) Upsert(_ context.Context, items []domchunk.Embedded) error {
	m.calls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserted = append(m.upserted, items...)
	return nil
}

// plainEmbedder only implements Embed, so ingestion must fall back to per-item calls.
type plainEmbedder struct {
	calls int
	err   error
}

func (p *plainEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	p.calls++
	if p.err != nil {
		return domain.EmbeddingResult{}, p.err
	}
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text)), 1}, TotalTokens: 2}, nil
}

type batchEmbedder struct {
	plainEmbedder
	batchCalls int
	short      bool
}

func (b *batchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	b.batchCalls++
	if b.err != nil {
		return domain.BatchEmbeddingResult{}, b.err
	}
	n := len(texts)
	if b.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i), 0}
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: 5 * len(texts)}, nil
}
