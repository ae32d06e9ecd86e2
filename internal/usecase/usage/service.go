package usage

import (
	"context"
	"time"

	domusage "github.com/kailas-cloud/filingbrief/internal/domain/usage"
)

// Service handles usage reporting.
type Service struct {
	readers []BudgetReader
	now     func() time.Time
}

// New creates a Service over every tracked provider. Nil readers are skipped.
func New(readers ...BudgetReader) *Service {
	s := &Service{now: time.Now}
	for _, r := range readers {
		if r != nil {
			s.readers = append(s.readers, r)
		}
	}
	return s
}

// GetReport builds a usage report for the given period.
func (s *Service) GetReport(_ context.Context, period domusage.Period) domusage.Report {
	start, end := period.Bounds(s.now())

	lines := make([]domusage.Line, 0, len(s.readers))
	for _, r := range s.readers {
		var line domusage.Line
		if period == domusage.PeriodMonth {
			line = domusage.NewLine(r.Kind(), r.Provider(), r.MonthlyLimit(), r.MonthlyUsed(), r.RemainingMonthly())
		} else {
			line = domusage.NewLine(r.Kind(), r.Provider(), r.DailyLimit(), r.DailyUsed(), r.RemainingDaily())
		}
		lines = append(lines, line)
	}

	return domusage.NewReport(period, start, end, lines)
}
