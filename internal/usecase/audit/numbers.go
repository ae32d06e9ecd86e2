package audit

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// numberRe matches "$1,234.5", "56.9%", "3.02T", "60.9 billion".
var numberRe = regexp.MustCompile(
	`\$?\b(\d{1,3}(?:,\d{3})+|\d+)(\.\d+)?(?:\s?(%|percent\b|thousand\b|million\b|billion\b|trillion\b|[KMBT]\b))?`)

var scales = map[string]float64{
	"K": 1e3, "thousand": 1e3,
	"M": 1e6, "million": 1e6,
	"B": 1e9, "billion": 1e9,
	"T": 1e12, "trillion": 1e12,
}

// number is a numeric token with the precision it was written in.
type number struct {
	raw      string
	value    float64
	halfUnit float64 // half of the last displayed digit, after scaling
}

// extractNumbers returns every numeric token in text. Tokens glued to letters
// ("1A", "H100") and form names ("10-K") are skipped.
func extractNumbers(text string) []number {
	var out []number
	for _, m := range numberRe.FindAllStringSubmatchIndex(text, -1) {
		end := m[1]
		if r, _ := utf8.DecodeRuneInString(text[end:]); unicode.IsLetter(r) {
			continue
		}
		if strings.HasPrefix(text[end:], "-K") || strings.HasPrefix(text[end:], "-Q") {
			continue
		}

		intPart := strings.ReplaceAll(text[m[2]:m[3]], ",", "")
		frac := ""
		if m[4] >= 0 {
			frac = text[m[4]:m[5]]
		}
		v, err := strconv.ParseFloat(intPart+frac, 64)
		if err != nil {
			continue
		}

		decimals := 0
		if frac != "" {
			decimals = len(frac) - 1
		}
		scale := 1.0
		if m[6] >= 0 {
			if s, ok := scales[text[m[6]:m[7]]]; ok {
				scale = s
			}
		}
		out = append(out, number{
			raw:      strings.TrimSpace(text[m[0]:m[1]]),
			value:    v * scale,
			halfUnit: 0.5 * math.Pow10(-decimals) * scale,
		})
	}
	return out
}

// supported reports whether claim matches any source value: within half a unit of
// the claim's last displayed digit, or within relTol of the source value.
func supported(claim number, sources []float64, relTol float64) bool {
	for _, v := range sources {
		diff := math.Abs(claim.value - v)
		if diff <= claim.halfUnit*(1+1e-9) {
			return true
		}
		if v != 0 && diff <= relTol*math.Abs(v) {
			return true
		}
	}
	return false
}

func values(ns []number) []float64 {
	out := make([]float64, len(ns))
	for i, n := range ns {
		out[i] = n.value
	}
	return out
}
