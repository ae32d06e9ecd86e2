package rerank

import (
	"context"
	"math"

	"github.com/kailas-cloud/filingbrief/internal/index"
)

// stopwords never count toward coverage.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "by": {}, "for": {},
	"from": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "was": {}, "what": {}, "with": {}, "10": {}, "k": {},
}

// LexicalScorer scores by query-term coverage and how tightly the matched terms cluster.
// It is deterministic and needs no network.
type LexicalScorer struct{}

// Score implements Scorer.
func (LexicalScorer) Score(_ context.Context, query string, passages []string) ([]float64, error) {
	terms := contentTerms(index.Tokenize(query))
	out := make([]float64, len(passages))
	if len(terms) == 0 {
		return out, nil
	}
	for i, p := range passages {
		out[i] = lexicalScore(terms, index.Tokenize(p))
	}
	return out, nil
}

func contentTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := stopwords[t]; stop {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// lexicalScore = 10 * (0.7 * coverage + 0.3 * proximity).
// Proximity is matched terms over the shortest window holding all of them.
func lexicalScore(terms, doc []string) float64 {
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}

	present := make(map[string]struct{})
	for _, t := range doc {
		if _, ok := want[t]; ok {
			present[t] = struct{}{}
		}
	}
	if len(present) == 0 {
		return 0
	}
	coverage := float64(len(present)) / float64(len(terms))

	window := shortestWindow(doc, present)
	proximity := float64(len(present)) / float64(window)

	return math.Round(10*(0.7*coverage+0.3*proximity)*1000) / 1000
}

// shortestWindow returns the length of the smallest token span containing every term in need.
func shortestWindow(doc []string, need map[string]struct{}) int {
	counts := make(map[string]int, len(need))
	have := 0
	best := len(doc)
	left := 0
	for right, t := range doc {
		if _, ok := need[t]; !ok {
			continue
		}
		counts[t]++
		if counts[t] == 1 {
			have++
		}
		for have == len(need) {
			if w := right - left + 1; w < best {
				best = w
			}
			lt := doc[left]
			if _, ok := need[lt]; ok {
				counts[lt]--
				if counts[lt] == 0 {
					have--
				}
			}
			left++
		}
	}
	return best
}
