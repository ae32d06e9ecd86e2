package index

import "math"

// SparseScorer ranks documents by keyword relevance. Score returns one value per
// document; zero means no query term matched.
type SparseScorer interface {
	Score(query []string, docs [][]string) []float64
}

// BM25 defaults (Robertson/Zaragoza).
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// BM25 is Okapi BM25 computed over the supplied documents as the corpus.
type BM25 struct {
	K1 float64
	B  float64
}

// NewBM25 returns a BM25 scorer with default parameters.
func NewBM25() BM25 { return BM25{K1: DefaultK1, B: DefaultB} }

// Score implements SparseScorer.
func (s BM25) Score(query []string, docs [][]string) []float64 {
	scores := make([]float64, len(docs))
	if len(docs) == 0 || len(query) == 0 {
		return scores
	}

	var totalLen int
	df := make(map[string]int)
	tfs := make([]map[string]int, len(docs))
	for i, d := range docs {
		totalLen += len(d)
		tf := make(map[string]int, len(d))
		for _, t := range d {
			tf[t]++
		}
		for t := range tf {
			df[t]++
		}
		tfs[i] = tf
	}
	avgLen := float64(totalLen) / float64(len(docs))
	if avgLen == 0 {
		return scores
	}
	n := float64(len(docs))

	terms := uniqueTerms(query)
	for i, d := range docs {
		dl := float64(len(d))
		for _, t := range terms {
			f := float64(tfs[i][t])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[t])+0.5)/(float64(df[t])+0.5))
			scores[i] += idf * (f * (s.K1 + 1)) / (f + s.K1*(1-s.B+s.B*dl/avgLen))
		}
	}
	return scores
}

// TermFrequency scores by the share of document tokens that are query terms.
type TermFrequency struct{}

// Score implements SparseScorer.
func (TermFrequency) Score(query []string, docs [][]string) []float64 {
	scores := make([]float64, len(docs))
	terms := make(map[string]struct{}, len(query))
	for _, t := range query {
		terms[t] = struct{}{}
	}
	for i, d := range docs {
		if len(d) == 0 {
			continue
		}
		hits := 0
		for _, t := range d {
			if _, ok := terms[t]; ok {
				hits++
			}
		}
		scores[i] = float64(hits) / float64(len(d))
	}
	return scores
}

// NewSparseScorer maps a config name ("bm25", "tf") to a scorer. Unknown names get BM25.
func NewSparseScorer(name string) SparseScorer {
	if name == "tf" {
		return TermFrequency{}
	}
	return NewBM25()
}

// CosineSimilarity returns the cosine of the angle between a and b, 0 for mismatched
// or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func uniqueTerms(query []string) []string {
	seen := make(map[string]struct{}, len(query))
	out := make([]string, 0, len(query))
	for _, t := range query {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
