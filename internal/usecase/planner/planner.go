// Package planner decomposes a user question into scoped sub-queries: one per
// (ticker, year span, topic) combination, capped by estimated relevance.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/query"
	"github.com/kailas-cloud/filingbrief/internal/domain/scope"
	"github.com/kailas-cloud/filingbrief/internal/index"
	"github.com/kailas-cloud/filingbrief/internal/logger"
)

// DefaultMaxSubQueries bounds downstream retrieval cost per turn.
const DefaultMaxSubQueries = 6

const llmTopicsPrompt = `Extract the distinct financial analysis topics from the question below.
Ignore company names, tickers and years. Use 1-4 words per topic, e.g. "AI revenue", "risk factors".
Return ONLY a JSON array of strings.`

// DefaultTickers is the universe used when none is configured.
var DefaultTickers = []string{
	"NVDA", "AMD", "INTC", "AAPL", "MSFT", "GOOGL", "GOOG", "AMZN", "META", "TSLA",
	"AVGO", "QCOM", "TSM", "ORCL", "IBM", "CRM", "ADBE", "MU", "ARM", "NFLX",
}

// DefaultAliases maps company names to tickers.
var DefaultAliases = map[string]string{
	"nvidia": "NVDA", "advanced micro devices": "AMD", "intel": "INTC", "apple": "AAPL",
	"microsoft": "MSFT", "alphabet": "GOOGL", "google": "GOOGL", "amazon": "AMZN",
	"meta platforms": "META", "tesla": "TSLA", "broadcom": "AVGO", "qualcomm": "QCOM",
	"oracle": "ORCL", "salesforce": "CRM", "adobe": "ADBE", "micron": "MU", "netflix": "NFLX",
}

// Planner turns a question into ordered sub-queries.
type Planner struct {
	universe      map[string]struct{}
	aliases       map[string]string
	aliasRe       *regexp.Regexp
	maxSubQueries int
	llm           Completer
}

// Option configures the Planner.
type Option func(*Planner)

// WithTickers replaces the ticker universe.
func WithTickers(tickers []string) Option {
	return func(p *Planner) {
		if len(tickers) == 0 {
			return
		}
		p.universe = make(map[string]struct{}, len(tickers))
		for _, t := range tickers {
			p.universe[strings.ToUpper(strings.TrimSpace(t))] = struct{}{}
		}
	}
}

// WithAliases replaces the company-name aliases.
func WithAliases(aliases map[string]string) Option {
	return func(p *Planner) {
		if len(aliases) == 0 {
			return
		}
		p.aliases = make(map[string]string, len(aliases))
		for name, t := range aliases {
			p.aliases[strings.ToLower(strings.TrimSpace(name))] = strings.ToUpper(strings.TrimSpace(t))
		}
	}
}

// WithMaxSubQueries sets the decomposition cap.
func WithMaxSubQueries(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxSubQueries = n
		}
	}
}

// WithLLMTopics enables LLM topic extraction with lexical fallback.
func WithLLMTopics(llm Completer) Option {
	return func(p *Planner) { p.llm = llm }
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{maxSubQueries: DefaultMaxSubQueries}
	WithTickers(DefaultTickers)(p)
	WithAliases(DefaultAliases)(p)
	for _, o := range opts {
		o(p)
	}
	names := make([]string, 0, len(p.aliases))
	for name, t := range p.aliases {
		p.universe[t] = struct{}{}
		names = append(names, name)
	}
	p.aliasRe = aliasPattern(names)
	return p
}

// aliasPattern matches any alias as a whole word, case-insensitively. Alternation
// is leftmost-first, so longer names are listed first to win over their prefixes.
func aliasPattern(names []string) *regexp.Regexp {
	if len(names) == 0 {
		return nil
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	alts := make([]string, len(names))
	for i, n := range names {
		alts[i] = strings.Join(strings.Fields(regexp.QuoteMeta(n)), `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

func (p *Planner) isTicker(w string) bool {
	_, ok := p.universe[w]
	return ok
}

type draft struct {
	text    string
	ticker  string
	tickerI int
	span    yearSpan
	hasSpan bool
	topic   string
}

// Plan decomposes userQuery. It returns domain.ErrAmbiguousScope when no ticker can
// be resolved from the query or the session context.
func (p *Planner) Plan(ctx context.Context, userQuery string, sc SessionContext) ([]query.SubQuery, error) {
	userQuery = strings.TrimSpace(userQuery)
	if userQuery == "" {
		return nil, fmt.Errorf("empty query: %w", domain.ErrAmbiguousScope)
	}
	log := logger.FromContext(ctx)

	ex := p.extract(userQuery)
	tickers := ex.tickers
	if len(tickers) == 0 {
		fallback := sc.PrimaryTicker
		if fallback == "" {
			fallback = sc.DefaultTicker
		}
		if fallback == "" {
			return nil, fmt.Errorf("no ticker in %q: %w", userQuery, domain.ErrAmbiguousScope)
		}
		tickers = []string{strings.ToUpper(fallback)}
	}

	topics := p.topics(ctx, userQuery, ex.residual)

	drafts := expand(tickers, ex.spans, topics)
	if len(drafts) == 1 {
		drafts[0].text = userQuery
	}
	if len(drafts) > p.maxSubQueries {
		drafts = capByRelevance(drafts, userQuery, p.maxSubQueries)
	}

	out := make([]query.SubQuery, 0, len(drafts))
	for i, d := range drafts {
		from, to := 0, 0
		if d.hasSpan {
			from, to = d.span.from, d.span.to
		}
		s, err := scope.New(d.ticker, from, to, d.topic)
		if err != nil {
			return nil, fmt.Errorf("scope for %q: %w", d.text, err)
		}
		q, err := query.New(d.text, s, sc.TurnID, i)
		if err != nil {
			return nil, fmt.Errorf("sub-query %d: %w", i, err)
		}
		out = append(out, q)
	}

	log.Debug("Planned sub-queries",
		zap.Strings("tickers", tickers),
		zap.Int("spans", len(ex.spans)),
		zap.Strings("topics", topics),
		zap.Int("subqueries", len(out)),
	)
	return out, nil
}

func (p *Planner) topics(ctx context.Context, userQuery, residual string) []string {
	if p.llm != nil {
		topics, err := p.llmTopics(ctx, userQuery)
		if err == nil && len(topics) > 0 {
			return topics
		}
		logger.FromContext(ctx).Warn("LLM topic extraction failed, using lexical topics", zap.Error(err))
	}
	return lexicalTopics(residual)
}

func (p *Planner) llmTopics(ctx context.Context, userQuery string) ([]string, error) {
	reply, err := p.llm.Complete(ctx, llmTopicsPrompt, userQuery)
	if err != nil {
		return nil, fmt.Errorf("topic completion: %w", err)
	}
	var raw []string
	if err := domain.ParseJSONResponse(reply, &raw); err != nil {
		return nil, err
	}
	var topics []string
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return dedupe(topics), nil
}

// expand builds the ticker × span × topic product in planner order.
func expand(tickers []string, spans []yearSpan, topics []string) []draft {
	spanOpts := make([]*yearSpan, 0, len(spans))
	for i := range spans {
		spanOpts = append(spanOpts, &spans[i])
	}
	if len(spanOpts) == 0 {
		spanOpts = []*yearSpan{nil}
	}
	topicOpts := topics
	if len(topicOpts) == 0 {
		topicOpts = []string{""}
	}

	var out []draft
	for ti, t := range tickers {
		for _, sp := range spanOpts {
			for _, topic := range topicOpts {
				d := draft{ticker: t, tickerI: ti, topic: topic}
				parts := []string{t}
				if topic != "" {
					parts = append(parts, topic)
				}
				if sp != nil {
					d.span, d.hasSpan = *sp, true
					parts = append(parts, sp.String())
				}
				d.text = strings.Join(parts, " ")
				out = append(out, d)
			}
		}
	}
	return out
}

// capByRelevance keeps the max drafts with the most token overlap with the query,
// breaking ties by entity mention order, and returns survivors in planner order.
func capByRelevance(drafts []draft, userQuery string, maxN int) []draft {
	qTokens := make(map[string]struct{})
	for _, t := range index.Tokenize(userQuery) {
		qTokens[t] = struct{}{}
	}
	type ranked struct {
		idx     int
		overlap int
	}
	rs := make([]ranked, len(drafts))
	for i, d := range drafts {
		n := 0
		for _, t := range index.Tokenize(d.text) {
			if _, ok := qTokens[t]; ok {
				n++
			}
		}
		rs[i] = ranked{idx: i, overlap: n}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].overlap != rs[j].overlap {
			return rs[i].overlap > rs[j].overlap
		}
		if drafts[rs[i].idx].tickerI != drafts[rs[j].idx].tickerI {
			return drafts[rs[i].idx].tickerI < drafts[rs[j].idx].tickerI
		}
		return rs[i].idx < rs[j].idx
	})
	keep := make([]int, 0, maxN)
	for _, r := range rs[:maxN] {
		keep = append(keep, r.idx)
	}
	sort.Ints(keep)
	out := make([]draft, 0, maxN)
	for _, i := range keep {
		out = append(out, drafts[i])
	}
	return out
}
