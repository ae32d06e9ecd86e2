package brief

import (
	"fmt"
	"sort"
)

// FindingKind is the audit finding taxonomy.
type FindingKind string

// Finding kinds.
const (
	CitationMismatch       FindingKind = "citation_mismatch"
	UnsupportedNumber      FindingKind = "unsupported_number"
	InconsistentMarketData FindingKind = "inconsistent_market_data"
)

// Area locates a finding within the brief layout.
type Area int

// Areas in render order.
const (
	AreaSummary Area = iota
	AreaMarket
	AreaSections
)

func (a Area) String() string {
	switch a {
	case AreaSummary:
		return "executive summary"
	case AreaMarket:
		return "market metrics"
	default:
		return "section"
	}
}

// Location addresses a sentence: section and block only apply to AreaSections.
type Location struct {
	Area     Area
	Section  int
	Block    int
	Sentence int
}

func (l Location) String() string {
	switch l.Area {
	case AreaSections:
		return fmt.Sprintf("section %d block %d sentence %d", l.Section+1, l.Block+1, l.Sentence+1)
	case AreaSummary:
		return fmt.Sprintf("executive summary sentence %d", l.Sentence+1)
	default:
		return l.Area.String()
	}
}

func (l Location) less(o Location) bool {
	if l.Area != o.Area {
		return l.Area < o.Area
	}
	if l.Section != o.Section {
		return l.Section < o.Section
	}
	if l.Block != o.Block {
		return l.Block < o.Block
	}
	return l.Sentence < o.Sentence
}

// Finding is one audit result.
type Finding struct {
	Kind     FindingKind
	Location Location
	ChunkID  string
	Detail   string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s at %s: %s", f.Kind, f.Location, f.Detail)
}

// SortFindings orders findings by location, kind, chunk and detail so that repeated
// audits of the same brief compare equal.
func SortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Location != b.Location {
			return a.Location.less(b.Location)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.ChunkID != b.ChunkID {
			return a.ChunkID < b.ChunkID
		}
		return a.Detail < b.Detail
	})
}

// Count returns the number of findings of kind k.
func Count(fs []Finding, k FindingKind) int {
	n := 0
	for _, f := range fs {
		if f.Kind == k {
			n++
		}
	}
	return n
}
