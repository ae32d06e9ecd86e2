package audit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

type mockChunks struct {
	chunks map[string]chunk.Chunk
	err    error
	calls  map[string]int
}

func newMockChunks(cs ...chunk.Chunk) *mockChunks {
	m := &mockChunks{chunks: make(map[string]chunk.Chunk), calls: make(map[string]int)}
	for _, c := range cs {
		m.chunks[c.ID()] = c
	}
	return m
}

func (m *mockChunks) Get(_ context.Context, id string) (chunk.Chunk, error) {
	m.calls[id]++
	if m.err != nil {
		return chunk.Chunk{}, m.err
	}
	c, ok := m.chunks[id]
	if !ok {
		return chunk.Chunk{}, fmt.Errorf("chunk %s: %w", id, domain.ErrChunkNotFound)
	}
	return c, nil
}

func mustChunk(t *testing.T, id, text string, year int, section string) chunk.Chunk {
	t.Helper()
	c, err := chunk.New(id, text, "NVDA", year, section, 0)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	return c
}

var fetched = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func snap(price, shares, mcap float64) market.Snapshot {
	return market.Snapshot{
		Ticker:            "NVDA",
		Price:             market.NewField(price, fetched),
		SharesOutstanding: market.NewField(shares, fetched),
		MarketCap:         market.NewField(mcap, fetched),
	}
}
