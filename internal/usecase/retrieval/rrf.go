package retrieval

import (
	"fmt"
	"sort"

	"github.com/kailas-cloud/filingbrief/internal/domain/candidate"
	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
)

// Fuse merges dense and sparse results via Reciprocal Rank Fusion.
// score(d) = sum of 1/(k + rank_i(d)) over the lists where d appears, rank 1-based.
// Each list is re-ranked by (score desc, chunk id asc) first, so input order never
// affects the result. Output is ordered by fused desc, chunk id asc.
func Fuse(dense, sparse []chunk.Scored, k int) ([]candidate.Candidate, error) {
	type entry struct {
		chunk  chunk.Chunk
		dense  candidate.Signal
		sparse candidate.Signal
	}

	merged := make(map[string]*entry)
	order := make([]string, 0, len(dense)+len(sparse))
	get := func(c chunk.Chunk) *entry {
		e, ok := merged[c.ID()]
		if !ok {
			e = &entry{chunk: c}
			merged[c.ID()] = e
			order = append(order, c.ID())
		}
		return e
	}

	for i, s := range rankList(dense) {
		get(s.Chunk).dense = candidate.Signal{Score: s.Score, Rank: i + 1}
	}
	for i, s := range rankList(sparse) {
		get(s.Chunk).sparse = candidate.Signal{Score: s.Score, Rank: i + 1}
	}

	out := make([]candidate.Candidate, 0, len(order))
	for _, id := range order {
		e := merged[id]
		c, err := candidate.New(e.chunk, e.dense, e.sparse, k)
		if err != nil {
			return nil, fmt.Errorf("fuse %s: %w", id, err)
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fused() != out[j].Fused() {
			return out[i].Fused() > out[j].Fused()
		}
		return out[i].ChunkID() < out[j].ChunkID()
	})
	return out, nil
}

// rankList copies, sorts by score desc then id asc, and drops repeated ids
// keeping the best-scored occurrence.
func rankList(in []chunk.Scored) []chunk.Scored {
	sorted := append([]chunk.Scored(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Chunk.ID() < sorted[j].Chunk.ID()
	})
	seen := make(map[string]struct{}, len(sorted))
	out := sorted[:0]
	for _, s := range sorted {
		if _, ok := seen[s.Chunk.ID()]; ok {
			continue
		}
		seen[s.Chunk.ID()] = struct{}{}
		out = append(out, s)
	}
	return out
}
