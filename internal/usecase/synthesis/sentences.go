package synthesis

import (
	"strings"
	"unicode"
	"unicode/utf8"

	domcit "github.com/kailas-cloud/filingbrief/internal/domain/citation"
)

// minSentenceChars drops headings and list fragments when a chunk has real sentences.
const minSentenceChars = 24

// splitSentences cuts text at '.', '!' or '?' followed by whitespace. Every returned
// sentence is a verbatim, trimmed substring of text, invalid UTF-8 included.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if next, _ := utf8.DecodeRuneInString(text[i:]); i < len(text) && !unicode.IsSpace(next) {
			continue
		}
		if s := strings.TrimSpace(text[start:i]); s != "" {
			out = append(out, s)
		}
		start = i
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}

	long := out[:0:0]
	for _, s := range out {
		if len(s) >= minSentenceChars {
			long = append(long, s)
		}
	}
	if len(long) > 0 {
		return long
	}
	return out
}

// titleCase upper-cases the first letter of each word and leaves the rest alone.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// sectionTitle maps a sub-query topic to the brief section it belongs to.
func sectionTitle(topic string) string {
	t := strings.ToLower(strings.TrimSpace(topic))
	switch {
	case t == "":
		return "Filing Highlights"
	case strings.Contains(t, "risk"):
		return "Key Risk Factors"
	case strings.Contains(t, "compet"):
		return "Competitive Position"
	case strings.Contains(t, "business") || strings.Contains(t, "strategy"):
		return "Business Overview & Strategy"
	default:
		return titleCase(topic)
	}
}

func sameSentence(a, b string) bool {
	return strings.EqualFold(domcit.NormalizeWhitespace(a), domcit.NormalizeWhitespace(b))
}
