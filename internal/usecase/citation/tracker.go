// Package citation tracks the provenance of every filing sentence used in a brief.
package citation

import (
	"fmt"
	"sync"

	"github.com/kailas-cloud/filingbrief/internal/domain/candidate"
	domcit "github.com/kailas-cloud/filingbrief/internal/domain/citation"
)

// Tracker mints citations for one turn and remembers the order sources were first used.
type Tracker struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	sources []domcit.Citation
	claims  int
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// Cite mints a citation for span taken from the candidate's chunk. The span must
// occur in the chunk text.
func (t *Tracker) Cite(c candidate.Candidate, span string) (domcit.Citation, error) {
	cit, err := domcit.New(c.Chunk(), span)
	if err != nil {
		return domcit.Citation{}, fmt.Errorf("cite %s: %w", c.ChunkID(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.claims++
	if _, ok := t.seen[cit.ChunkID()]; !ok {
		t.seen[cit.ChunkID()] = struct{}{}
		t.sources = append(t.sources, cit)
	}
	return cit, nil
}

// Sources returns one citation per distinct chunk, in first-use order.
func (t *Tracker) Sources() []domcit.Citation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domcit.Citation(nil), t.sources...)
}

// Claims returns how many citations were minted, duplicates included.
func (t *Tracker) Claims() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.claims
}
