package synthesis

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/filingbrief/internal/domain/candidate"
	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
	"github.com/kailas-cloud/filingbrief/internal/domain/query"
	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
)

var fixedNow = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

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

// overlapScorer scores a sentence by how many query words it contains.
type overlapScorer struct{}

func (overlapScorer) Score(_ context.Context, q string, passages []string) ([]float64, error) {
	out := make([]float64, len(passages))
	for i, p := range passages {
		for _, w := range splitWords(q) {
			for _, pw := range splitWords(p) {
				if w == pw {
					out[i]++
				}
			}
		}
	}
	return out, nil
}

func splitWords(s string) []string {
	var out []string
	word := []rune{}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			word = append(word, r)
			continue
		}
		if len(word) > 0 {
			out = append(out, string(word))
			word = word[:0]
		}
	}
	if len(word) > 0 {
		out = append(out, string(word))
	}
	return out
}

func newTestService(opts ...Option) *Service {
	s := New(overlapScorer{}, opts...)
	s.now = func() time.Time { return fixedNow }
	return s
}

func subQuery(t *testing.T, text, ticker string, from, to int, topic string, idx int) query.SubQuery {
	t.Helper()
	sc, err := scope.New(ticker, from, to, topic)
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	q, err := query.New(text, sc, "turn-1", idx)
	if err != nil {
		t.Fatalf("subquery: %v", err)
	}
	return q
}

func cand(t *testing.T, id, ticker string, year int, section, text string, rank int) candidate.Candidate {
	t.Helper()
	c, err := chunk.New(id, text, ticker, year, section, 0)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	cd, err := candidate.New(c, candidate.Signal{Score: 1, Rank: rank}, candidate.Signal{}, candidate.DefaultRRFK)
	if err != nil {
		t.Fatalf("candidate: %v", err)
	}
	return cd
}

func snapshot(ticker string, price, mcap float64) market.Snapshot {
	return market.Snapshot{
		Ticker:    ticker,
		Source:    "test",
		Price:     market.NewField(price, fixedNow),
		MarketCap: market.NewField(mcap, fixedNow),
	}
}
