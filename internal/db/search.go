package db

import "github.com/kailas-cloud/filingbrief/internal/domain/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // defaults to "vector"
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// TextQuery is the input for BM25 text search.
type TextQuery struct {
	IndexName    string
	TextField    string // defaults to "text"
	Query        string
	Filters      filter.Expression
	TopK         int
	ReturnFields []string
}

// ListQuery is the input for a filtered, unscored scan of an index.
// SortBy must name a SORTABLE field; paging without it may skip or repeat hits.
type ListQuery struct {
	IndexName    string
	Filters      filter.Expression
	SortBy       string
	Offset       int
	Limit        int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
