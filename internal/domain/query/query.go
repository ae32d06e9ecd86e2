package query

import (
	"errors"
	"strings"

	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
)

// SubQuery is one decomposed unit of retrieval work. Lives for a single turn.
type SubQuery struct {
	text     string
	scope    scope.Scope
	parentID string
	index    int
}

// New validates and creates a SubQuery. Index is the planner order.
func New(text string, sc scope.Scope, parentID string, index int) (SubQuery, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SubQuery{}, errors.New("sub-query text is required")
	}
	if sc.Ticker() == "" {
		return SubQuery{}, errors.New("sub-query scope is required")
	}
	if index < 0 {
		return SubQuery{}, errors.New("sub-query index must be non-negative")
	}
	return SubQuery{text: text, scope: sc, parentID: parentID, index: index}, nil
}

// Text returns the retrieval text.
func (q SubQuery) Text() string { return q.text }

// Scope returns the retrieval scope.
func (q SubQuery) Scope() scope.Scope { return q.scope }

// ParentID returns the id of the user query this sub-query came from.
func (q SubQuery) ParentID() string { return q.parentID }

// Index returns the planner order.
func (q SubQuery) Index() int { return q.index }

// WithIndex returns a copy with a new planner index.
func (q SubQuery) WithIndex(i int) SubQuery {
	q.index = i
	return q
}
