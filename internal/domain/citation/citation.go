package citation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
)

// Citation is the provenance record linking a brief sentence to a filing chunk.
type Citation struct {
	chunkID    string
	ticker     string
	fiscalYear int
	section    string
	quotedSpan string
}

// New mints a Citation for span quoted from c. The span must occur in the chunk text
// modulo whitespace.
func New(c chunk.Chunk, span string) (Citation, error) {
	if c.ID() == "" {
		return Citation{}, errors.New("citation chunk is required")
	}
	if NormalizeWhitespace(span) == "" {
		return Citation{}, errors.New("quoted span is required")
	}
	if !SpanIn(span, c.Text()) {
		return Citation{}, fmt.Errorf("quoted span not found in chunk %s", c.ID())
	}
	return Citation{
		chunkID:    c.ID(),
		ticker:     c.Ticker(),
		fiscalYear: c.FiscalYear(),
		section:    c.Section(),
		quotedSpan: span,
	}, nil
}

// Reconstruct builds a Citation without checking it against chunk text.
// Audit is responsible for verifying reconstructed citations.
func Reconstruct(chunkID, ticker string, fiscalYear int, section, quotedSpan string) Citation {
	return Citation{
		chunkID:    chunkID,
		ticker:     ticker,
		fiscalYear: fiscalYear,
		section:    section,
		quotedSpan: quotedSpan,
	}
}

// ChunkID returns the cited chunk id.
func (c Citation) ChunkID() string { return c.chunkID }

// Ticker returns the cited issuer.
func (c Citation) Ticker() string { return c.ticker }

// FiscalYear returns the cited filing year.
func (c Citation) FiscalYear() int { return c.fiscalYear }

// Section returns the cited SEC item.
func (c Citation) Section() string { return c.section }

// QuotedSpan returns the exact text used from the chunk.
func (c Citation) QuotedSpan() string { return c.quotedSpan }

// Label renders the bracketed markdown citation, e.g. "[NVDA 10-K 2024, Item 7]".
func (c Citation) Label() string {
	if c.section == "" {
		return fmt.Sprintf("[%s 10-K %d]", c.ticker, c.fiscalYear)
	}
	return fmt.Sprintf("[%s 10-K %d, %s]", c.ticker, c.fiscalYear, c.section)
}

// MatchesChunk reports whether the citation's identity agrees with the chunk.
func (c Citation) MatchesChunk(ch chunk.Chunk) bool {
	return c.chunkID == ch.ID() &&
		strings.EqualFold(c.ticker, ch.Ticker()) &&
		c.fiscalYear == ch.FiscalYear() &&
		c.section == ch.Section()
}

// NormalizeWhitespace collapses all whitespace runs to a single space and trims the ends.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SpanIn reports whether span is a substring of text after whitespace normalization.
func SpanIn(span, text string) bool {
	n := NormalizeWhitespace(span)
	if n == "" {
		return false
	}
	return strings.Contains(NormalizeWhitespace(text), n)
}
