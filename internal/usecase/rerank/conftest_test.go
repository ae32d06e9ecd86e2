package rerank

import (
	"context"
	"os"
	"testing"

	"github.com/kailas-cloud/filingbrief/internal/domain/candidate"
	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	"github.com/kailas-cloud/filingbrief/internal/domain/query"
	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

type mockScorer struct {
	scores []float64
	err    error
	got    []string
}

func (m *mockScorer) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	m.got = passages
	return m.scores, m.err
}

type mockCompleter struct {
	reply      string
	err        error
	gotPrompt  string
	gotContext string
}

func (m *mockCompleter) Complete(_ context.Context, prompt, ctxText string) (string, error) {
	m.gotPrompt, m.gotContext = prompt, ctxText
	return m.reply, m.err
}

// fusedCandidates builds candidates in fused order: id[i] gets dense rank i+1.
func fusedCandidates(t *testing.T, ids ...string) []candidate.Candidate {
	t.Helper()
	out := make([]candidate.Candidate, len(ids))
	for i, id := range ids {
		c := chunk.Reconstruct(id, "passage "+id, "NVDA", 2024, "Item 1A", 0)
		cand, err := candidate.New(c, candidate.Signal{Score: 1, Rank: i + 1}, candidate.Signal{}, 60)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = cand
	}
	return out
}

func testQuery(t *testing.T) query.SubQuery {
	t.Helper()
	sc, err := scope.New("NVDA", 0, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	q, err := query.New("NVDA supply chain risk", sc, "turn", 0)
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func chunkIDs(cands []candidate.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ChunkID()
	}
	return out
}
