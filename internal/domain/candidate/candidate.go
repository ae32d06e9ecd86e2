package candidate

import (
	"errors"
	"fmt"
	"math"

	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
)

// DefaultRRFK is the Reciprocal Rank Fusion smoothing constant (Cormack et al. 2009).
const DefaultRRFK = 60

// Signal is one ranked list's opinion of a chunk. Rank is 1-based; 0 means absent from the list.
type Signal struct {
	Score float64
	Rank  int
}

// Present reports whether the chunk appeared in this list.
func (s Signal) Present() bool { return s.Rank > 0 }

// Candidate is a scored association between a sub-query and a chunk.
// The fused score is derived from the dense and sparse signals and is never set directly.
type Candidate struct {
	chunk     chunk.Chunk
	dense     Signal
	sparse    Signal
	rrfK      int
	fused     float64
	rerank    float64
	hasRerank bool
}

// New creates a Candidate and computes its fused score.
func New(c chunk.Chunk, dense, sparse Signal, rrfK int) (Candidate, error) {
	if c.ID() == "" {
		return Candidate{}, errors.New("candidate chunk is required")
	}
	if rrfK <= 0 {
		return Candidate{}, fmt.Errorf("rrf k must be positive, got %d", rrfK)
	}
	if err := validateSignal("dense", dense); err != nil {
		return Candidate{}, err
	}
	if err := validateSignal("sparse", sparse); err != nil {
		return Candidate{}, err
	}
	cand := Candidate{chunk: c, dense: dense, sparse: sparse, rrfK: rrfK}
	cand.fused = fuse(dense, sparse, rrfK)
	return cand, nil
}

// WithDense returns a copy with a new dense signal and a recomputed fused score.
func (c Candidate) WithDense(s Signal) (Candidate, error) {
	return New(c.chunk, s, c.sparse, c.rrfK)
}

// WithSparse returns a copy with a new sparse signal and a recomputed fused score.
func (c Candidate) WithSparse(s Signal) (Candidate, error) {
	return New(c.chunk, c.dense, s, c.rrfK)
}

// WithRerank returns a copy carrying a re-ranker score.
func (c Candidate) WithRerank(score float64) (Candidate, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Candidate{}, fmt.Errorf("rerank score must be finite, got %v", score)
	}
	c.rerank = score
	c.hasRerank = true
	return c, nil
}

// Chunk returns the referenced chunk.
func (c Candidate) Chunk() chunk.Chunk { return c.chunk }

// ChunkID returns the referenced chunk id.
func (c Candidate) ChunkID() string { return c.chunk.ID() }

// Dense returns the dense-path signal.
func (c Candidate) Dense() Signal { return c.dense }

// Sparse returns the sparse-path signal.
func (c Candidate) Sparse() Signal { return c.sparse }

// Fused returns the RRF score.
func (c Candidate) Fused() float64 { return c.fused }

// Rerank returns the re-ranker score and whether one was assigned.
func (c Candidate) Rerank() (float64, bool) { return c.rerank, c.hasRerank }

func fuse(dense, sparse Signal, k int) float64 {
	var score float64
	if dense.Present() {
		score += 1.0 / float64(dense.Rank+k)
	}
	if sparse.Present() {
		score += 1.0 / float64(sparse.Rank+k)
	}
	return score
}

func validateSignal(name string, s Signal) error {
	if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
		return fmt.Errorf("%s score must be finite, got %v", name, s.Score)
	}
	if s.Rank < 0 {
		return fmt.Errorf("%s rank must be non-negative, got %d", name, s.Rank)
	}
	return nil
}
