package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// MaxTextLength bounds a single chunk's text.
const MaxTextLength = 64 * 1024

// Chunk is an immutable unit of indexed filing text.
type Chunk struct {
	id           string
	text         string
	ticker       string
	fiscalYear   int
	section      string
	sourceOffset int
}

// New validates and creates a Chunk. The ticker is upper-cased.
func New(id, text, ticker string, fiscalYear int, section string, sourceOffset int) (Chunk, error) {
	if id == "" {
		return Chunk{}, errors.New("chunk id is required")
	}
	if strings.TrimSpace(text) == "" {
		return Chunk{}, errors.New("chunk text is required")
	}
	if len(text) > MaxTextLength {
		return Chunk{}, fmt.Errorf("chunk text exceeds %d bytes", MaxTextLength)
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return Chunk{}, errors.New("chunk ticker is required")
	}
	if fiscalYear < 1900 || fiscalYear > 2200 {
		return Chunk{}, fmt.Errorf("fiscal year %d out of range", fiscalYear)
	}
	if sourceOffset < 0 {
		return Chunk{}, errors.New("source offset must be non-negative")
	}
	return Chunk{
		id:           id,
		text:         text,
		ticker:       ticker,
		fiscalYear:   fiscalYear,
		section:      section,
		sourceOffset: sourceOffset,
	}, nil
}

// Reconstruct hydrates a Chunk from storage without validation.
func Reconstruct(id, text, ticker string, fiscalYear int, section string, sourceOffset int) Chunk {
	return Chunk{
		id:           id,
		text:         text,
		ticker:       ticker,
		fiscalYear:   fiscalYear,
		section:      section,
		sourceOffset: sourceOffset,
	}
}

// ID returns the stable chunk identifier.
func (c Chunk) ID() string { return c.id }

// Text returns the chunk text.
func (c Chunk) Text() string { return c.text }

// Ticker returns the issuer ticker.
func (c Chunk) Ticker() string { return c.ticker }

// FiscalYear returns the filing fiscal year.
func (c Chunk) FiscalYear() int { return c.fiscalYear }

// Section returns the SEC item, e.g. "Item 1A".
func (c Chunk) Section() string { return c.section }

// SourceOffset returns the byte offset of the chunk within the filing.
func (c Chunk) SourceOffset() int { return c.sourceOffset }

// Scored is a chunk with a backend relevance score (similarity or BM25).
type Scored struct {
	Chunk Chunk
	Score float64
}

// Embedded pairs a chunk with its embedding for storage.
type Embedded struct {
	Chunk  Chunk
	Vector []float32
}
