package planner

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	wordRe    = regexp.MustCompile(`\$?[A-Za-z][A-Za-z0-9.]*`)
	spanRe    = regexp.MustCompile(
		`(?i)\b(?:FY\s?)?((?:19|20)\d{2})\s*(?:-|–|—|\bto\b|\bthrough\b)\s*(?:FY\s?)?((?:19|20)\d{2})\b`)
	yearRe    = regexp.MustCompile(`(?i)\b(?:FY\s?)?((?:19|20)\d{2})\b`)
	segmentRe = regexp.MustCompile(`(?i)\s+(?:and|&|vs\.?|versus|plus)\s+|[,;]`)
)

// cashtagMax bounds "$TICK" including the dollar sign.
const cashtagMax = 6

// stopwords are dropped from topic text.
var stopwords = map[string]struct{}{
	"compare": {}, "comparison": {}, "growth": {}, "and": {}, "the": {}, "a": {}, "an": {},
	"of": {}, "for": {}, "in": {}, "on": {}, "to": {}, "vs": {}, "versus": {}, "between": {},
	"what": {}, "how": {}, "is": {}, "are": {}, "was": {}, "were": {}, "do": {}, "does": {},
	"did": {}, "their": {}, "its": {}, "it": {}, "over": {}, "from": {}, "across": {},
	"during": {}, "about": {}, "tell": {}, "me": {}, "show": {}, "give": {}, "please": {},
	"analyze": {}, "analysis": {}, "summarize": {}, "summary": {}, "10": {}, "k": {},
	"10-k": {}, "10k": {}, "filing": {}, "filings": {}, "fy": {}, "year": {}, "years": {},
	"with": {}, "s": {}, "&": {}, "plus": {}, "through": {}, "latest": {}, "recent": {},
}

// topicKeywords mark a conjunction segment as carrying its own topic.
var topicKeywords = map[string]struct{}{
	"revenue": {}, "revenues": {}, "sales": {}, "income": {}, "margin": {}, "margins": {},
	"profit": {}, "profitability": {}, "earnings": {}, "risk": {}, "risks": {}, "debt": {},
	"cash": {}, "competition": {}, "competitive": {}, "competitors": {}, "supply": {},
	"guidance": {}, "segment": {}, "segments": {}, "customers": {}, "regulation": {},
	"regulatory": {}, "export": {}, "litigation": {}, "legal": {}, "dividend": {},
	"dividends": {}, "buyback": {}, "buybacks": {}, "research": {}, "r&d": {}, "capex": {},
	"employees": {}, "strategy": {}, "outlook": {}, "liquidity": {}, "valuation": {},
	"ai": {}, "governance": {}, "acquisitions": {}, "inventory": {},
}

type mention struct {
	ticker string
	pos    int
}

type yearSpan struct {
	from, to int
}

func (y yearSpan) String() string {
	if y.from == y.to {
		return strconv.Itoa(y.from)
	}
	return strconv.Itoa(y.from) + "-" + strconv.Itoa(y.to)
}

// extraction is the lexical decomposition of a query.
type extraction struct {
	tickers  []string
	spans    []yearSpan
	residual string // query with tickers, aliases and years blanked out
}

func (p *Planner) extract(q string) extraction {
	work := []byte(q)
	var mentions []mention

	blank := func(start, end int) {
		for i := start; i < end; i++ {
			work[i] = ' '
		}
	}

	if p.aliasRe != nil {
		for _, loc := range p.aliasRe.FindAllIndex(work, -1) {
			name := strings.ToLower(strings.Join(strings.Fields(string(work[loc[0]:loc[1]])), " "))
			t, ok := p.aliases[name]
			if !ok {
				continue
			}
			mentions = append(mentions, mention{ticker: t, pos: loc[0]})
			blank(loc[0], loc[1])
		}
	}

	for _, loc := range wordRe.FindAllIndex(work, -1) {
		w := string(work[loc[0]:loc[1]])
		w = strings.TrimRight(w, ".")
		switch {
		case strings.HasPrefix(w, "$") && len(w) > 1 && len(w) <= cashtagMax:
			mentions = append(mentions, mention{ticker: strings.ToUpper(w[1:]), pos: loc[0]})
			blank(loc[0], loc[1])
		case w == strings.ToUpper(w) && p.isTicker(w):
			mentions = append(mentions, mention{ticker: w, pos: loc[0]})
			blank(loc[0], loc[1])
		}
	}

	sort.SliceStable(mentions, func(i, j int) bool { return mentions[i].pos < mentions[j].pos })
	var ex extraction
	seen := make(map[string]struct{})
	for _, m := range mentions {
		if _, ok := seen[m.ticker]; ok {
			continue
		}
		seen[m.ticker] = struct{}{}
		ex.tickers = append(ex.tickers, m.ticker)
	}

	type located struct {
		span yearSpan
		pos  int
	}
	var found []located
	for _, m := range spanRe.FindAllSubmatchIndex(work, -1) {
		from, _ := strconv.Atoi(string(work[m[2]:m[3]]))
		to, _ := strconv.Atoi(string(work[m[4]:m[5]]))
		if from > to {
			from, to = to, from
		}
		found = append(found, located{span: yearSpan{from, to}, pos: m[0]})
		blank(m[0], m[1])
	}
	for _, m := range yearRe.FindAllSubmatchIndex(work, -1) {
		y, _ := strconv.Atoi(string(work[m[2]:m[3]]))
		found = append(found, located{span: yearSpan{y, y}, pos: m[0]})
		blank(m[0], m[1])
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })
	seenSpan := make(map[yearSpan]struct{})
	for _, f := range found {
		if _, ok := seenSpan[f.span]; ok {
			continue
		}
		seenSpan[f.span] = struct{}{}
		ex.spans = append(ex.spans, f.span)
	}

	ex.residual = string(work)
	return ex
}

// lexicalTopics splits the residual on conjunctions when at least two segments carry
// topic keywords; otherwise the whole residual is one topic.
func lexicalTopics(residual string) []string {
	var keyed []string
	for _, seg := range segmentRe.Split(residual, -1) {
		if hasTopicKeyword(seg) {
			if t := cleanTopic(seg); t != "" {
				keyed = append(keyed, t)
			}
		}
	}
	if len(keyed) >= 2 {
		return dedupe(keyed)
	}
	if t := cleanTopic(residual); t != "" {
		return []string{t}
	}
	return nil
}

func hasTopicKeyword(seg string) bool {
	for _, w := range words(seg) {
		if _, ok := topicKeywords[strings.ToLower(w)]; ok {
			return true
		}
	}
	return false
}

func cleanTopic(seg string) string {
	var kept []string
	for _, w := range words(seg) {
		if _, stop := stopwords[strings.ToLower(w)]; stop {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// words splits on whitespace and trims edge punctuation, keeping inner '&' and '-'.
func words(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		f = strings.Trim(f, `.,;:!?"'()[]{}–—-`)
		f = strings.TrimSuffix(f, "'s")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
