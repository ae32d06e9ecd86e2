package index

import (
	"context"
	"errors"
	"strings"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
)

type mockSource struct {
	chunks []chunk.Chunk
	err    error
	calls  int
}

func (m *mockSource) QueryChunks(_ context.Context, sc scope.Scope) ([]chunk.Chunk, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []chunk.Chunk
	for _, c := range m.chunks {
		if sc.Contains(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// keywordEmbedder maps text onto a fixed vocabulary so similarity is predictable.
type keywordEmbedder struct {
	vocab []string
	err   error
	calls int
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.calls++
	if e.err != nil {
		return domain.EmbeddingResult{}, e.err
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.vocab))
	for i, w := range e.vocab {
		vec[i] = float32(strings.Count(lower, w))
	}
	return domain.EmbeddingResult{Embedding: vec, TotalTokens: 1}, nil
}

var errBackend = errors.New("backend down")

func mustChunk(id, text, ticker string, year int) chunk.Chunk {
	c, err := chunk.New(id, text, ticker, year, "Item 1A", 0)
	if err != nil {
		panic(err)
	}
	return c
}

func mustScope(ticker string, from, to int) scope.Scope {
	sc, err := scope.New(ticker, from, to, "")
	if err != nil {
		panic(err)
	}
	return sc
}
