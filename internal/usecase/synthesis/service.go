// Package synthesis drafts the brief from re-ranked evidence and market snapshots.
// Filing sentences are extracted verbatim and cited; nothing is paraphrased.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/brief"
	domcit "github.com/kailas-cloud/filingbrief/internal/domain/citation"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
	"github.com/kailas-cloud/filingbrief/internal/logger"
	"github.com/kailas-cloud/filingbrief/internal/usecase/citation"
)

const (
	// DefaultSentencesPerBlock bounds the evidence lines under one heading.
	DefaultSentencesPerBlock = 3

	maxSummarySentences = 4

	summaryPrompt = `You write the executive summary of a financial brief built from SEC 10-K excerpts.
Use ONLY the numbered evidence. Do not introduce numbers that are not in the evidence.
Write at most 4 sentences. Return ONLY JSON:
{"sentences":[{"text":"...","evidence":[1,3]}]}
Every sentence must list the evidence numbers it relies on.

Question: `
)

// Service builds briefs.
type Service struct {
	scorer   SentenceScorer
	llm      Completer
	perBlock int
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithCompleter enables LLM drafting of the executive summary.
func WithCompleter(llm Completer) Option {
	return func(s *Service) { s.llm = llm }
}

// WithSentencesPerBlock overrides DefaultSentencesPerBlock.
func WithSentencesPerBlock(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.perBlock = n
		}
	}
}

// New creates a synthesis service. scorer picks the sentence of each chunk that
// best answers its sub-query.
func New(scorer SentenceScorer, opts ...Option) *Service {
	s := &Service{scorer: scorer, perBlock: DefaultSentencesPerBlock, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// drafted is an extracted evidence sentence with the ticker it speaks about.
type drafted struct {
	ticker   string
	sentence brief.Sentence
}

// Synthesize assembles the brief. Sub-queries without evidence become explicit
// no-evidence blocks; they never disappear from the output.
func (s *Service) Synthesize(ctx context.Context, in Input) (brief.Brief, error) {
	if err := ctx.Err(); err != nil {
		return brief.Brief{}, err
	}
	tr := citation.NewTracker()

	var (
		sections []brief.Section
		bySec    = make(map[string]int)
		evidence []drafted
		tickers  []string
		seenTk   = make(map[string]struct{})
		covered  int
	)
	for _, ev := range in.Evidence {
		sc := ev.SubQuery.Scope()
		if _, ok := seenTk[sc.Ticker()]; !ok {
			seenTk[sc.Ticker()] = struct{}{}
			tickers = append(tickers, sc.Ticker())
		}

		blk, lines := s.block(ctx, tr, ev)
		if !blk.NoEvidence {
			covered++
		}
		for _, l := range lines {
			evidence = append(evidence, drafted{ticker: sc.Ticker(), sentence: l})
		}

		heading := sectionTitle(sc.Topic())
		i, ok := bySec[heading]
		if !ok {
			i = len(sections)
			bySec[heading] = i
			sections = append(sections, brief.Section{Title: heading})
		}
		sections[i].Blocks = append(sections[i].Blocks, blk)
	}
	for _, m := range in.Markets {
		if _, ok := seenTk[m.Ticker]; !ok {
			seenTk[m.Ticker] = struct{}{}
			tickers = append(tickers, m.Ticker)
		}
	}

	summary := marketSentences(in.Markets)
	summary = append(summary, s.summary(ctx, in.Query, tickers, evidence)...)
	summary = append(summary, brief.Sentence{
		Kind: brief.Note,
		Text: fmt.Sprintf("Filing evidence was found for %d of %d research questions.", covered, len(in.Evidence)),
	})

	return brief.Brief{
		Title:       title(tickers),
		GeneratedAt: s.now().UTC(),
		Summary:     summary,
		Markets:     append([]market.Snapshot(nil), in.Markets...),
		Sections:    sections,
		Sources:     tr.Sources(),
		Warnings:    append([]string(nil), in.Warnings...),
	}, nil
}

func (s *Service) block(ctx context.Context, tr *citation.Tracker, ev Evidence) (brief.Block, []brief.Sentence) {
	sc := ev.SubQuery.Scope()
	heading := sc.Ticker()
	if span := sc.Span(); span != "" {
		heading += " FY" + span
	}
	blk := brief.Block{Heading: heading}

	for _, cand := range ev.Candidates {
		if len(blk.Sentences) >= s.perBlock {
			break
		}
		span, ok := s.bestSentence(ctx, ev.SubQuery.Text(), cand.Chunk().Text(), blk.Sentences)
		if !ok {
			continue
		}
		cit, err := tr.Cite(cand, span)
		if err != nil {
			logger.FromContext(ctx).Warn("skipping uncitable sentence",
				zap.String("chunk_id", cand.ChunkID()), zap.Error(err))
			continue
		}
		blk.Sentences = append(blk.Sentences, brief.Sentence{
			Text:      span,
			Kind:      brief.Fact,
			Citations: []domcit.Citation{cit},
		})
	}

	if len(blk.Sentences) == 0 {
		blk.NoEvidence = true
		blk.Gap = ev.Gap
		if blk.Gap == "" && len(ev.Candidates) > 0 {
			blk.Gap = "no citable passage"
		}
	}
	return blk, blk.Sentences
}

// bestSentence returns the highest scoring sentence of text not already used.
// Ties keep document order. A failing scorer falls back to the first sentence.
func (s *Service) bestSentence(ctx context.Context, q, text string, used []brief.Sentence) (string, bool) {
	var pool []string
	for _, sent := range splitSentences(text) {
		dup := false
		for _, u := range used {
			if sameSentence(u.Text, sent) {
				dup = true
				break
			}
		}
		if !dup {
			pool = append(pool, sent)
		}
	}
	if len(pool) == 0 {
		return "", false
	}
	if s.scorer == nil {
		return pool[0], true
	}

	scores, err := s.scorer.Score(ctx, q, pool)
	if err != nil || len(scores) != len(pool) {
		return pool[0], true
	}
	best := 0
	for i := range scores {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return pool[best], true
}

func (s *Service) summary(ctx context.Context, q string, tickers []string, evidence []drafted) []brief.Sentence {
	if s.llm != nil && len(evidence) > 0 {
		out, err := s.draftSummary(ctx, q, evidence)
		if err == nil {
			return out
		}
		logger.FromContext(ctx).Warn("summary drafting failed, using extractive summary", zap.Error(err))
	}
	return extractiveSummary(tickers, evidence)
}

// extractiveSummary leads with the top evidence sentence per ticker.
func extractiveSummary(tickers []string, evidence []drafted) []brief.Sentence {
	var out []brief.Sentence
	for _, tk := range tickers {
		found := false
		for _, d := range evidence {
			if d.ticker == tk {
				out = append(out, d.sentence)
				found = true
				break
			}
		}
		if !found {
			out = append(out, brief.Sentence{
				Kind: brief.Note,
				Text: fmt.Sprintf("No filing evidence was found for %s in the requested scope.", tk),
			})
		}
	}
	return out
}

type draftReply struct {
	Sentences []struct {
		Text     string `json:"text"`
		Evidence []int  `json:"evidence"`
	} `json:"sentences"`
}

// draftSummary asks the LLM for a short summary. Each sentence carries the
// citations of the evidence it names, so the audit checks its numbers.
func (s *Service) draftSummary(ctx context.Context, q string, evidence []drafted) ([]brief.Sentence, error) {
	var sb strings.Builder
	for i, d := range evidence {
		fmt.Fprintf(&sb, "[%d] %s %s\n", i+1, d.sentence.Citations[0].Label(), d.sentence.Text)
	}

	reply, err := s.llm.Complete(ctx, summaryPrompt+q, sb.String())
	if err != nil {
		return nil, fmt.Errorf("summary completion: %w", err)
	}
	var parsed draftReply
	if err := domain.ParseJSONResponse(reply, &parsed); err != nil {
		return nil, err
	}

	var out []brief.Sentence
	for _, ps := range parsed.Sentences {
		text := strings.TrimSpace(ps.Text)
		if text == "" {
			continue
		}
		var cits []domcit.Citation
		for _, n := range ps.Evidence {
			if n >= 1 && n <= len(evidence) {
				cits = append(cits, evidence[n-1].sentence.Citations...)
			}
		}
		if len(cits) == 0 {
			continue
		}
		out = append(out, brief.Sentence{Text: text, Kind: brief.Fact, Citations: cits})
		if len(out) == maxSummarySentences {
			break
		}
	}
	if len(out) == 0 {
		return nil, errors.New("summary reply had no grounded sentences")
	}
	return out, nil
}

func marketSentences(snaps []market.Snapshot) []brief.Sentence {
	var out []brief.Sentence
	for _, m := range snaps {
		if !m.Price.Valid {
			continue
		}
		text := fmt.Sprintf("%s is trading at %s", m.Ticker, market.FormatPrice(m.Price.Value))
		if m.MarketCap.Valid {
			text += " with a market capitalization of " + market.FormatCompact(m.MarketCap.Value, true)
		}
		out = append(out, brief.Sentence{Text: text + ".", Kind: brief.Market})
	}
	return out
}

func title(tickers []string) string {
	if len(tickers) == 0 {
		return "Financial Analysis"
	}
	return "Financial Analysis: " + strings.Join(tickers, " vs ")
}
