package db

import (
	"errors"
	"fmt"
)

// DistanceCosine is the only metric the chunk index uses; scores are mapped
// back to similarity as 1 - distance.
const DistanceCosine = "COSINE"

// IndexFieldType enumerates the FT schema field kinds.
type IndexFieldType int

const (
	// IndexFieldNumeric is a numeric field (fiscal year, offsets).
	IndexFieldNumeric IndexFieldType = iota
	// IndexFieldTag is an exact-match tag (ticker, section).
	IndexFieldTag
	// IndexFieldText is a full-text field scored by BM25.
	IndexFieldText
	// IndexFieldVector is an HNSW float32 vector.
	IndexFieldVector
)

// IndexField describes one attribute of an FT schema.
type IndexField struct {
	Name     string
	Type     IndexFieldType
	Sortable bool    // NUMERIC/TAG: usable in SORTBY
	Weight   float64 // TEXT: 0 means the server default of 1

	// VECTOR (HNSW)
	VectorDim         int
	VectorM           int
	VectorEFConstruct int
}

// IndexDefinition is an FT.CREATE over hashes under Prefixes.
type IndexDefinition struct {
	Name     string
	Prefixes []string
	Fields   []IndexField
}

// Validate checks that the definition can be sent to FT.CREATE.
func (idx *IndexDefinition) Validate() error {
	if !IsValidIdentifier(idx.Name) {
		return fmt.Errorf("invalid index name %q", idx.Name)
	}
	if len(idx.Fields) == 0 {
		return errors.New("at least one field is required")
	}

	seen := make(map[string]bool, len(idx.Fields))
	vectors := 0
	for i := range idx.Fields {
		f := &idx.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d: name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field name: %s", f.Name)
		}
		seen[f.Name] = true

		switch f.Type {
		case IndexFieldVector:
			vectors++
			if f.VectorDim <= 0 {
				return fmt.Errorf("vector field %s requires positive DIM", f.Name)
			}
		case IndexFieldText:
			if f.Weight < 0 {
				return fmt.Errorf("text field %s: weight must not be negative", f.Name)
			}
		}
	}
	if vectors > 1 {
		return errors.New("at most one vector field is supported")
	}
	return nil
}

// VectorField returns the name of the vector attribute, if any.
func (idx *IndexDefinition) VectorField() (string, bool) {
	for i := range idx.Fields {
		if idx.Fields[i].Type == IndexFieldVector {
			return idx.Fields[i].Name, true
		}
	}
	return "", false
}

// IsValidIdentifier reports whether s matches [a-zA-Z0-9_:-]+.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == ':' || r == '-':
		default:
			return false
		}
	}
	return true
}
