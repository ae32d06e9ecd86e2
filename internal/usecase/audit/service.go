// Package audit verifies a drafted brief against its sources: every citation is
// re-read from the document store and every number must trace back to a cited
// chunk or a market snapshot.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	"github.com/kailas-cloud/filingbrief/internal/domain/brief"
	"github.com/kailas-cloud/filingbrief/internal/domain/chunk"
	domcit "github.com/kailas-cloud/filingbrief/internal/domain/citation"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

// Mode decides what findings do to a turn.
type Mode string

// Audit modes.
const (
	ModeFlag Mode = "flag"
	ModeFail Mode = "fail"
)

// Default tolerances.
const (
	DefaultRelativeTolerance  = 0.005
	DefaultMarketCapTolerance = 0.05
)

// Service audits briefs.
type Service struct {
	chunks  ChunkGetter
	mode    Mode
	relTol  float64
	mcapTol float64
}

// Option configures the Service.
type Option func(*Service)

// WithMode sets flag or fail behavior.
func WithMode(m Mode) Option {
	return func(s *Service) {
		if m == ModeFlag || m == ModeFail {
			s.mode = m
		}
	}
}

// WithRelativeTolerance overrides DefaultRelativeTolerance.
func WithRelativeTolerance(t float64) Option {
	return func(s *Service) {
		if t > 0 {
			s.relTol = t
		}
	}
}

// WithMarketCapTolerance overrides DefaultMarketCapTolerance.
func WithMarketCapTolerance(t float64) Option {
	return func(s *Service) {
		if t > 0 {
			s.mcapTol = t
		}
	}
}

// New creates an audit service.
func New(chunks ChunkGetter, opts ...Option) *Service {
	s := &Service{
		chunks:  chunks,
		mode:    ModeFlag,
		relTol:  DefaultRelativeTolerance,
		mcapTol: DefaultMarketCapTolerance,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Mode returns the configured policy.
func (s *Service) Mode() Mode { return s.mode }

// Apply verifies b and attaches the findings. Under ModeFail any citation or
// number finding also returns domain.ErrAuditFailed alongside the annotated brief.
func (s *Service) Apply(ctx context.Context, b brief.Brief) (brief.Brief, error) {
	findings, err := s.Verify(ctx, b)
	if err != nil {
		return b, err
	}
	for _, f := range findings {
		metrics.AuditFindingsTotal.WithLabelValues(string(f.Kind)).Inc()
	}
	out := b.WithFindings(findings)

	if s.mode == ModeFail {
		hard := brief.Count(findings, brief.CitationMismatch) + brief.Count(findings, brief.UnsupportedNumber)
		if hard > 0 {
			return out, fmt.Errorf("%d finding(s): %w", hard, domain.ErrAuditFailed)
		}
	}
	return out, nil
}

// Verify returns the findings for b in deterministic order. It reads b only;
// findings already attached to b do not influence the result.
func (s *Service) Verify(ctx context.Context, b brief.Brief) ([]brief.Finding, error) {
	chunks := make(map[string]*chunk.Chunk)
	var findings []brief.Finding

	var marketValues []float64
	for _, m := range b.Markets {
		marketValues = append(marketValues, m.Values()...)
	}

	for _, ls := range b.Sentences() {
		sent := ls.Sentence
		var sources []float64
		for _, c := range sent.Citations {
			ch, err := s.chunk(ctx, chunks, c.ChunkID())
			if err != nil {
				return nil, err
			}
			if f, bad := checkCitation(c, ch); bad {
				f.Location = ls.Location
				findings = append(findings, f)
			}
			if ch != nil {
				sources = append(sources, values(extractNumbers(ch.Text()))...)
				sources = append(sources, float64(ch.FiscalYear()))
			}
		}

		switch sent.Kind {
		case brief.Fact:
		case brief.Market:
			sources = append(sources, marketValues...)
		default:
			continue
		}
		for _, n := range extractNumbers(sent.Text) {
			if supported(n, sources, s.relTol) {
				continue
			}
			f := brief.Finding{
				Kind:     brief.UnsupportedNumber,
				Location: ls.Location,
				Detail:   fmt.Sprintf("%q is not supported by the cited sources", n.raw),
			}
			if len(sent.Citations) > 0 {
				f.ChunkID = sent.Citations[0].ChunkID()
			}
			findings = append(findings, f)
		}
	}

	findings = append(findings, s.marketFindings(b.Markets)...)
	brief.SortFindings(findings)
	return findings, nil
}

// chunk fetches id once per audit. A missing chunk is cached as nil.
func (s *Service) chunk(ctx context.Context, cache map[string]*chunk.Chunk, id string) (*chunk.Chunk, error) {
	if ch, ok := cache[id]; ok {
		return ch, nil
	}
	ch, err := s.chunks.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrChunkNotFound):
		cache[id] = nil
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("audit chunk %s: %w", id, err)
	}
	cache[id] = &ch
	return &ch, nil
}

func checkCitation(c domcit.Citation, ch *chunk.Chunk) (brief.Finding, bool) {
	f := brief.Finding{Kind: brief.CitationMismatch, ChunkID: c.ChunkID()}
	switch {
	case ch == nil:
		f.Detail = "cited chunk no longer exists"
	case !c.MatchesChunk(*ch):
		f.Detail = fmt.Sprintf("citation %s does not match chunk identity [%s 10-K %d, %s]",
			c.Label(), ch.Ticker(), ch.FiscalYear(), ch.Section())
	case !domcit.SpanIn(c.QuotedSpan(), ch.Text()):
		f.Detail = fmt.Sprintf("quoted span %q not found in chunk", truncate(c.QuotedSpan(), 80))
	default:
		return brief.Finding{}, false
	}
	return f, true
}

func (s *Service) marketFindings(snaps []market.Snapshot) []brief.Finding {
	var out []brief.Finding
	for i, m := range snaps {
		consistent, ok := m.MarketCapConsistent(s.mcapTol)
		if !ok || consistent {
			continue
		}
		out = append(out, brief.Finding{
			Kind:     brief.InconsistentMarketData,
			Location: brief.Location{Area: brief.AreaMarket, Sentence: i},
			Detail: fmt.Sprintf("%s price x shares = %s differs from reported market cap %s by more than %.0f%%",
				m.Ticker,
				market.FormatCompact(m.Price.Value*m.SharesOutstanding.Value, true),
				market.FormatCompact(m.MarketCap.Value, true),
				s.mcapTol*100),
		})
	}
	return out
}

func truncate(s string, n int) string {
	s = domcit.NormalizeWhitespace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
