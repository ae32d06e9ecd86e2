// Package usage models token consumption reports across embedding and LLM providers.
package usage

import (
	"fmt"
	"time"
)

// Period is the aggregation granularity.
type Period string

// Aggregation period constants.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod maps the query parameter to a Period. Empty means day.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// Bounds returns the UTC start and end of the period containing now.
func (p Period) Bounds(now time.Time) (start, end time.Time) {
	now = now.UTC()
	if p == PeriodMonth {
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
	start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Line is the usage of one provider for one kind of work.
type Line struct {
	kind      string
	provider  string
	limit     int64
	used      int64
	remaining int64
}

// NewLine creates a usage line. A zero limit means unlimited; remaining is then -1.
func NewLine(kind, provider string, limit, used, remaining int64) Line {
	return Line{kind: kind, provider: provider, limit: limit, used: used, remaining: remaining}
}

// Kind returns "embedding" or "llm".
func (l Line) Kind() string { return l.kind }

// Provider returns the provider name.
func (l Line) Provider() string { return l.provider }

// Limit returns the token cap for the period (0 = unlimited).
func (l Line) Limit() int64 { return l.limit }

// Used returns tokens consumed in the period.
func (l Line) Used() int64 { return l.used }

// Remaining returns tokens left, -1 when unlimited.
func (l Line) Remaining() int64 { return l.remaining }

// Exhausted reports whether a capped budget is spent.
func (l Line) Exhausted() bool { return l.limit > 0 && l.remaining <= 0 }

// Report is a token usage report for a time period.
type Report struct {
	period Period
	start  time.Time
	end    time.Time
	lines  []Line
}

// NewReport creates a usage report.
func NewReport(period Period, start, end time.Time, lines []Line) Report {
	return Report{period: period, start: start, end: end, lines: lines}
}

// Period returns the aggregation granularity.
func (r Report) Period() Period { return r.period }

// Start returns the period start.
func (r Report) Start() time.Time { return r.start }

// End returns the period end, which is also when budgets reset.
func (r Report) End() time.Time { return r.end }

// Lines returns per-provider usage.
func (r Report) Lines() []Line { return r.lines }

// TotalUsed sums tokens over every line.
func (r Report) TotalUsed() int64 {
	var n int64
	for _, l := range r.lines {
		n += l.used
	}
	return n
}
