package rerank

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

func TestRerank_SortsByScoreAndTruncates(t *testing.T) {
	sc := &mockScorer{scores: []float64{2, 9, 9, 5}}
	got := New(sc, 20, 3).Rerank(context.Background(), testQuery(t), fusedCandidates(t, "a", "b", "c", "d"))

	// b and c tie on rerank; b has the higher fused score
	if want := []string{"b", "c", "d"}; !reflect.DeepEqual(chunkIDs(got), want) {
		t.Fatalf("got %v, want %v", chunkIDs(got), want)
	}
	if score, ok := got[0].Rerank(); !ok || score != 9 {
		t.Errorf("expected rerank 9 on b, got %v %v", score, ok)
	}
}

func TestRerank_ScoresOnlyPool(t *testing.T) {
	sc := &mockScorer{scores: []float64{1, 2}}
	New(sc, 2, 2).Rerank(context.Background(), testQuery(t), fusedCandidates(t, "a", "b", "c"))

	if len(sc.got) != 2 {
		t.Errorf("expected pool of 2 passages, got %d", len(sc.got))
	}
}

func TestRerank_NilScorerPassesThrough(t *testing.T) {
	before := testutil.ToFloat64(metrics.RerankFallbackTotal.WithLabelValues("no_scorer"))
	got := New(nil, 20, 2).Rerank(context.Background(), testQuery(t), fusedCandidates(t, "a", "b", "c"))

	if want := []string{"a", "b"}; !reflect.DeepEqual(chunkIDs(got), want) {
		t.Fatalf("got %v, want %v", chunkIDs(got), want)
	}
	if testutil.ToFloat64(metrics.RerankFallbackTotal.WithLabelValues("no_scorer"))-before != 1 {
		t.Error("expected no_scorer fallback to be counted")
	}
}

func TestRerank_ScorerErrorFallsBack(t *testing.T) {
	before := testutil.ToFloat64(metrics.RerankFallbackTotal.WithLabelValues("scorer_error"))
	sc := &mockScorer{err: errors.New("llm timeout")}
	got := New(sc, 20, 2).Rerank(context.Background(), testQuery(t), fusedCandidates(t, "a", "b", "c"))

	if want := []string{"a", "b"}; !reflect.DeepEqual(chunkIDs(got), want) {
		t.Fatalf("got %v, want %v", chunkIDs(got), want)
	}
	if _, ok := got[0].Rerank(); ok {
		t.Error("fallback candidates must not carry rerank scores")
	}
	if testutil.ToFloat64(metrics.RerankFallbackTotal.WithLabelValues("scorer_error"))-before != 1 {
		t.Error("expected scorer_error fallback to be counted")
	}
}

func TestRerank_WrongScoreCountFallsBack(t *testing.T) {
	sc := &mockScorer{scores: []float64{5}}
	got := New(sc, 20, 5).Rerank(context.Background(), testQuery(t), fusedCandidates(t, "a", "b"))

	if want := []string{"a", "b"}; !reflect.DeepEqual(chunkIDs(got), want) {
		t.Fatalf("got %v, want %v", chunkIDs(got), want)
	}
}

func TestRerank_Empty(t *testing.T) {
	if got := New(LexicalScorer{}, 20, 5).Rerank(context.Background(), testQuery(t), nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestLexicalScorer_CoverageAndProximity(t *testing.T) {
	scores, err := LexicalScorer{}.Score(context.Background(), "supply chain risk", []string{
		"Supply chain risk is concentrated in Taiwan.",
		"Risk of supply disruptions across the global chain of vendors and partners.",
		"Revenue grew.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if scores[2] != 0 {
		t.Errorf("non-matching passage scored %v", scores[2])
	}
	if scores[0] <= scores[1] {
		t.Errorf("adjacent terms should outrank scattered ones: %v vs %v", scores[0], scores[1])
	}
	if scores[0] != 10 {
		t.Errorf("full adjacent coverage should score 10, got %v", scores[0])
	}
}

func TestLexicalScorer_StopwordOnlyQuery(t *testing.T) {
	scores, err := LexicalScorer{}.Score(context.Background(), "what is the", []string{"anything"})
	if err != nil {
		t.Fatal(err)
	}
	if scores[0] != 0 {
		t.Errorf("expected 0, got %v", scores[0])
	}
}

func TestLLMScorer_ParsesScores(t *testing.T) {
	llm := &mockCompleter{reply: "```json\n{\"results\":[{\"id\":\"p1\",\"score\":8},{\"id\":\"p0\",\"score\":14},{\"id\":\"p9\",\"score\":3}]}\n```"}
	scores, err := NewLLMScorer(llm).Score(context.Background(), "export controls", []string{"first", "second", "third"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if want := []float64{10, 8, 0}; !reflect.DeepEqual(scores, want) {
		t.Errorf("got %v, want %v", scores, want)
	}
	if llm.gotContext == "" || llm.gotPrompt == "" {
		t.Error("expected prompt and passages to be sent")
	}
}

func TestLLMScorer_MalformedReply(t *testing.T) {
	llm := &mockCompleter{reply: "I think passage one is best."}
	if _, err := NewLLMScorer(llm).Score(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLLMScorer_CompletionError(t *testing.T) {
	boom := errors.New("rate limited")
	llm := &mockCompleter{err: boom}
	if _, err := NewLLMScorer(llm).Score(context.Background(), "q", []string{"a"}); !errors.Is(err, boom) {
		t.Fatalf("expected completion error, got %v", err)
	}
}
