package chunk

import (
	"github.com/kailas-cloud/filingbrief/internal/db"
)

// Hash field names of a stored chunk.
const (
	fieldText         = "text"
	fieldTicker       = "ticker"
	fieldFiscalYear   = "fiscal_year"
	fieldSection      = "section"
	fieldSourceOffset = "source_offset"
	fieldVector       = "vector"
)

// metaFields is every stored field except the vector.
var metaFields = []string{fieldText, fieldTicker, fieldFiscalYear, fieldSection, fieldSourceOffset}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// buildIndex returns the FT.CREATE definition for the chunk index.
func buildIndex(name, keyPrefix string, dim int, hnsw HNSWConfig) (*db.IndexDefinition, error) {
	return db.NewIndex(name).
		Prefix(keyPrefix).
		Tag(fieldTicker).
		SortableNumeric(fieldFiscalYear).
		Tag(fieldSection).
		Text(fieldText, 1).
		Vector(fieldVector, dim, hnsw.M, hnsw.EFConstruct).
		Build()
}
