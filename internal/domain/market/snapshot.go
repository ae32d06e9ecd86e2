package market

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field is one market metric with its own fetch provenance.
type Field struct {
	Value     float64
	FetchedAt time.Time
	Valid     bool
}

// NewField creates a valid Field. Non-finite values produce an invalid Field.
func NewField(v float64, fetchedAt time.Time) Field {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Field{}
	}
	return Field{Value: v, FetchedAt: fetchedAt.UTC(), Valid: true}
}

// Snapshot is the live market view of one ticker.
type Snapshot struct {
	Ticker            string
	Source            string
	Currency          string
	Price             Field
	MarketCap         Field
	SharesOutstanding Field
	FiftyTwoWeekLow   Field
	FiftyTwoWeekHigh  Field
	PERatio           Field
	Beta              Field
	DividendYield     Field
}

// Values returns every valid metric value; the audit matches numeric claims against these.
func (s Snapshot) Values() []float64 {
	fields := []Field{
		s.Price, s.MarketCap, s.SharesOutstanding,
		s.FiftyTwoWeekLow, s.FiftyTwoWeekHigh, s.PERatio, s.Beta, s.DividendYield,
	}
	out := make([]float64, 0, len(fields)+1)
	for _, f := range fields {
		if f.Valid {
			out = append(out, f.Value)
		}
	}
	// dividend yield is rendered as a percentage
	if s.DividendYield.Valid {
		out = append(out, s.DividendYield.Value*100)
	}
	return out
}

// LatestFetch returns the newest field timestamp.
func (s Snapshot) LatestFetch() time.Time {
	var latest time.Time
	for _, f := range []Field{s.Price, s.MarketCap, s.SharesOutstanding, s.FiftyTwoWeekLow,
		s.FiftyTwoWeekHigh, s.PERatio, s.Beta, s.DividendYield} {
		if f.Valid && f.FetchedAt.After(latest) {
			latest = f.FetchedAt
		}
	}
	return latest
}

// MarketCapConsistent reports whether price × shares is within tolerance of the reported
// market cap. ok is false when any input is missing.
func (s Snapshot) MarketCapConsistent(tolerance float64) (consistent, ok bool) {
	if !s.Price.Valid || !s.SharesOutstanding.Valid || !s.MarketCap.Valid || s.MarketCap.Value == 0 {
		return false, false
	}
	calculated := s.Price.Value * s.SharesOutstanding.Value
	return math.Abs(calculated-s.MarketCap.Value)/math.Abs(s.MarketCap.Value) < tolerance, true
}

// FormatPrice renders "$123.45".
func FormatPrice(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatCompact renders large amounts with a scale suffix: "$3.02T", "$950.10M".
func FormatCompact(v float64, currency bool) string {
	prefix := ""
	if currency {
		prefix = "$"
	}
	abs := math.Abs(v)
	sign := ""
	if v < 0 {
		sign = "-"
	}
	switch {
	case abs >= 1e12:
		return fmt.Sprintf("%s%s%.2fT", sign, prefix, abs/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("%s%s%.2fB", sign, prefix, abs/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%s%s%.2fM", sign, prefix, abs/1e6)
	default:
		return fmt.Sprintf("%s%s%s", sign, prefix, strconv.FormatFloat(abs, 'f', 2, 64))
	}
}

// FormatRatio renders a plain two-decimal number.
func FormatRatio(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatPercent renders a fraction as a percentage: 0.0123 -> "1.23%".
func FormatPercent(fraction float64) string {
	return strconv.FormatFloat(fraction*100, 'f', 2, 64) + "%"
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
