package scope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
)

// Scope restricts retrieval to one issuer and optionally a fiscal year span and topic.
type Scope struct {
	ticker   string
	yearFrom int
	yearTo   int
	topic    string
}

// New validates and creates a Scope. Zero years mean unbounded.
func New(ticker string, yearFrom, yearTo int, topic string) (Scope, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return Scope{}, errors.New("scope ticker is required")
	}
	if yearFrom < 0 || yearTo < 0 {
		return Scope{}, errors.New("scope years must be non-negative")
	}
	if yearFrom > 0 && yearTo > 0 && yearFrom > yearTo {
		return Scope{}, fmt.Errorf("scope year range %d-%d is inverted", yearFrom, yearTo)
	}
	return Scope{ticker: ticker, yearFrom: yearFrom, yearTo: yearTo, topic: strings.TrimSpace(topic)}, nil
}

// Ticker returns the scoped issuer.
func (s Scope) Ticker() string { return s.ticker }

// YearFrom returns the inclusive lower fiscal year, 0 when unbounded.
func (s Scope) YearFrom() int { return s.yearFrom }

// YearTo returns the inclusive upper fiscal year, 0 when unbounded.
func (s Scope) YearTo() int { return s.yearTo }

// Topic returns the topic tag, possibly empty.
func (s Scope) Topic() string { return s.topic }

// HasYears reports whether any year bound is set.
func (s Scope) HasYears() bool { return s.yearFrom > 0 || s.yearTo > 0 }

// Contains reports whether the chunk falls inside the scope. Topic is a ranking
// hint and does not restrict containment.
func (s Scope) Contains(c chunk.Chunk) bool {
	if !strings.EqualFold(c.Ticker(), s.ticker) {
		return false
	}
	if s.yearFrom > 0 && c.FiscalYear() < s.yearFrom {
		return false
	}
	if s.yearTo > 0 && c.FiscalYear() > s.yearTo {
		return false
	}
	return true
}

// Span renders the year range as "2020-2024", "2023" or "".
func (s Scope) Span() string {
	switch {
	case s.yearFrom > 0 && s.yearTo > 0 && s.yearFrom == s.yearTo:
		return fmt.Sprintf("%d", s.yearFrom)
	case s.yearFrom > 0 && s.yearTo > 0:
		return fmt.Sprintf("%d-%d", s.yearFrom, s.yearTo)
	case s.yearFrom > 0:
		return fmt.Sprintf("%d-", s.yearFrom)
	case s.yearTo > 0:
		return fmt.Sprintf("-%d", s.yearTo)
	default:
		return ""
	}
}
