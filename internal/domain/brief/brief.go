package brief

import (
	"time"

	"github.com/kailas-cloud/filingbrief/internal/domain/citation"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
)

// SentenceKind classifies a sentence for auditing.
type SentenceKind int

const (
	// Fact is drawn from filing text and must carry citations.
	Fact SentenceKind = iota
	// Market states live market data.
	Market
	// Note is framing text; never audited for numbers.
	Note
)

func (k SentenceKind) String() string {
	switch k {
	case Fact:
		return "fact"
	case Market:
		return "market"
	default:
		return "note"
	}
}

// Sentence is one line of brief prose with its provenance.
type Sentence struct {
	Text      string
	Kind      SentenceKind
	Citations []citation.Citation
}

// Block is the evidence for one sub-query inside a section.
type Block struct {
	Heading    string
	Sentences  []Sentence
	NoEvidence bool
	// Gap explains why evidence is missing (empty index, timeout); empty when evidence exists.
	Gap string
}

// Section is a titled group of blocks.
type Section struct {
	Title  string
	Blocks []Block
}

// Brief is the final per-turn artifact. Synthesis builds it; audit only reads it.
type Brief struct {
	Title       string
	GeneratedAt time.Time
	Summary     []Sentence
	Markets     []market.Snapshot
	Sections    []Section
	Sources     []citation.Citation
	Warnings    []string
	Findings    []Finding
}

// WithFindings returns a copy carrying audit findings. Sentence content is shared.
func (b Brief) WithFindings(f []Finding) Brief {
	out := b
	out.Findings = append([]Finding(nil), f...)
	return out
}

// LocatedSentence pairs a sentence with its position in the brief.
type LocatedSentence struct {
	Location Location
	Sentence Sentence
}

// Sentences walks every sentence in render order.
func (b Brief) Sentences() []LocatedSentence {
	var out []LocatedSentence
	for i, s := range b.Summary {
		out = append(out, LocatedSentence{
			Location: Location{Area: AreaSummary, Sentence: i},
			Sentence: s,
		})
	}
	for si, sec := range b.Sections {
		for bi, blk := range sec.Blocks {
			for i, s := range blk.Sentences {
				out = append(out, LocatedSentence{
					Location: Location{Area: AreaSections, Section: si, Block: bi, Sentence: i},
					Sentence: s,
				})
			}
		}
	}
	return out
}

// Citations returns every citation attached to a sentence, in render order.
func (b Brief) Citations() []citation.Citation {
	var out []citation.Citation
	for _, ls := range b.Sentences() {
		out = append(out, ls.Sentence.Citations...)
	}
	return out
}

// Tickers returns the distinct market snapshot tickers in order.
func (b Brief) Tickers() []string {
	out := make([]string, 0, len(b.Markets))
	for _, m := range b.Markets {
		out = append(out, m.Ticker)
	}
	return out
}

// NoEvidenceBlocks counts blocks that carry no evidence.
func (b Brief) NoEvidenceBlocks() int {
	n := 0
	for _, sec := range b.Sections {
		for _, blk := range sec.Blocks {
			if blk.NoEvidence {
				n++
			}
		}
	}
	return n
}
