package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/filingbrief/internal/domain/brief"
	"github.com/kailas-cloud/filingbrief/internal/domain/candidate"
	domcit "github.com/kailas-cloud/filingbrief/internal/domain/citation"
	"github.com/kailas-cloud/filingbrief/internal/domain/market"
)

const nvdaRiskText = "Item 1A. Risk Factors. We depend on a limited number of foundry partners for wafer supply. " +
	"Export controls may restrict sales of our data center products to China. Our stock price is volatile."

func TestSynthesize_ExtractsCitedSentences(t *testing.T) {
	s := newTestService()
	q := subQuery(t, "NVDA export controls risk 2024", "NVDA", 2024, 2024, "risk", 0)
	in := Input{
		Query: "What are NVDA's export control risks?",
		Evidence: []Evidence{{
			SubQuery:   q,
			Candidates: []candidate.Candidate{cand(t, "nvda-2024-1a-3", "NVDA", 2024, "Item 1A", nvdaRiskText, 1)},
		}},
	}

	b, err := s.Synthesize(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Title != "Financial Analysis: NVDA" {
		t.Errorf("unexpected title %q", b.Title)
	}
	if len(b.Sections) != 1 || b.Sections[0].Title != "Key Risk Factors" {
		t.Fatalf("expected Key Risk Factors section, got %+v", b.Sections)
	}
	blk := b.Sections[0].Blocks[0]
	if blk.Heading != "NVDA FY2024" {
		t.Errorf("unexpected heading %q", blk.Heading)
	}
	if len(blk.Sentences) != 1 {
		t.Fatalf("expected one sentence from one chunk, got %d", len(blk.Sentences))
	}
	got := blk.Sentences[0]
	if !strings.HasPrefix(got.Text, "Export controls") {
		t.Errorf("expected best matching sentence, got %q", got.Text)
	}
	if len(b.Sources) != 1 || b.Sources[0].ChunkID() != "nvda-2024-1a-3" {
		t.Errorf("unexpected sources %+v", b.Sources)
	}
	if !b.GeneratedAt.Equal(fixedNow) {
		t.Errorf("unexpected generated at %v", b.GeneratedAt)
	}
}

func TestSynthesize_CitationSpansOccurInChunks(t *testing.T) {
	s := newTestService(WithSentencesPerBlock(5))
	chunks := map[string]string{
		"a": "Revenue grew 126% to $60.9 billion.   Data center revenue  was $47.5 billion.",
		"b": "Gaming revenue was $10.4 billion, up 15%. Automotive revenue was $1.1 billion.",
	}
	in := Input{Evidence: []Evidence{{
		SubQuery: subQuery(t, "NVDA revenue 2024", "NVDA", 2024, 2024, "revenue", 0),
		Candidates: []candidate.Candidate{
			cand(t, "a", "NVDA", 2024, "Item 7", chunks["a"], 1),
			cand(t, "b", "NVDA", 2024, "Item 7", chunks["b"], 2),
		},
	}}}

	b, err := s.Synthesize(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, ls := range b.Sentences() {
		for _, c := range ls.Sentence.Citations {
			if !domcit.SpanIn(c.QuotedSpan(), chunks[c.ChunkID()]) {
				t.Errorf("span %q not in chunk %s", c.QuotedSpan(), c.ChunkID())
			}
		}
	}
	if b.Sections[0].Title != "Revenue" {
		t.Errorf("expected Revenue section, got %q", b.Sections[0].Title)
	}
}

// NVDA risk factors against an empty index: the section is still rendered,
// with an explicit no-evidence marker.
func TestSynthesize_EmptyIndex(t *testing.T) {
	s := newTestService()
	in := Input{
		Query:    "NVDA risk factors",
		Evidence: []Evidence{{SubQuery: subQuery(t, "NVDA risk factors", "NVDA", 0, 0, "risk factors", 0)}},
		Markets:  []market.Snapshot{snapshot("NVDA", 120.5, 2.95e12)},
	}

	b, err := s.Synthesize(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.NoEvidenceBlocks() != 1 {
		t.Fatalf("expected one no-evidence block, got %d", b.NoEvidenceBlocks())
	}
	if len(b.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(b.Sources))
	}

	md := b.Markdown()
	for _, want := range []string{
		"## Key Risk Factors",
		"### NVDA",
		brief.NoEvidenceText,
		"NVDA is trading at $120.50 with a market capitalization of $2.95T.",
		"No filing evidence was found for NVDA in the requested scope.",
		"Filing evidence was found for 0 of 1 research questions.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestSynthesize_GapCarried(t *testing.T) {
	s := newTestService()
	in := Input{Evidence: []Evidence{{
		SubQuery: subQuery(t, "AMD AI revenue 2020-2024", "AMD", 2020, 2024, "AI revenue", 1),
		Gap:      "retrieval timed out",
	}}}

	b, _ := s.Synthesize(context.Background(), in)
	blk := b.Sections[0].Blocks[0]
	if !blk.NoEvidence || blk.Gap != "retrieval timed out" {
		t.Errorf("expected gap to be carried, got %+v", blk)
	}
	if b.Sections[0].Title != "AI Revenue" {
		t.Errorf("expected AI Revenue, got %q", b.Sections[0].Title)
	}
	if blk.Heading != "AMD FY2020-2024" {
		t.Errorf("unexpected heading %q", blk.Heading)
	}
}

func TestSynthesize_SectionsGroupByTopicInOrder(t *testing.T) {
	s := newTestService()
	text := "Data center revenue increased substantially year over year."
	in := Input{Evidence: []Evidence{
		{SubQuery: subQuery(t, "NVDA revenue", "NVDA", 0, 0, "revenue", 0),
			Candidates: []candidate.Candidate{cand(t, "n1", "NVDA", 2024, "Item 7", text, 1)}},
		{SubQuery: subQuery(t, "NVDA risk", "NVDA", 0, 0, "risk", 1)},
		{SubQuery: subQuery(t, "AMD revenue", "AMD", 0, 0, "revenue", 2)},
	}}

	b, _ := s.Synthesize(context.Background(), in)
	if len(b.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(b.Sections))
	}
	if b.Sections[0].Title != "Revenue" || len(b.Sections[0].Blocks) != 2 {
		t.Errorf("unexpected first section %+v", b.Sections[0])
	}
	if b.Sections[1].Title != "Key Risk Factors" {
		t.Errorf("unexpected second section %q", b.Sections[1].Title)
	}
	if b.Title != "Financial Analysis: NVDA vs AMD" {
		t.Errorf("unexpected title %q", b.Title)
	}
}

func TestSynthesize_SkipsDuplicateSentences(t *testing.T) {
	s := newTestService()
	text := "Export controls may restrict sales to China."
	in := Input{Evidence: []Evidence{{
		SubQuery: subQuery(t, "NVDA export controls", "NVDA", 0, 0, "risk", 0),
		Candidates: []candidate.Candidate{
			cand(t, "c1", "NVDA", 2023, "Item 1A", text, 1),
			cand(t, "c2", "NVDA", 2024, "Item 1A", text, 2),
		},
	}}}

	b, _ := s.Synthesize(context.Background(), in)
	if n := len(b.Sections[0].Blocks[0].Sentences); n != 1 {
		t.Errorf("expected duplicate sentence dropped, got %d", n)
	}
}

func TestSynthesize_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestService().Synthesize(ctx, Input{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSynthesize_LLMSummary(t *testing.T) {
	llm := &mockCompleter{reply: "```json\n{\"sentences\":[{\"text\":\"Export rules threaten China sales.\",\"evidence\":[1]},{\"text\":\"Ungrounded claim.\",\"evidence\":[9]}]}\n```"}
	s := newTestService(WithCompleter(llm))
	in := Input{
		Query: "NVDA export risk",
		Evidence: []Evidence{{
			SubQuery:   subQuery(t, "NVDA export controls risk", "NVDA", 2024, 2024, "risk", 0),
			Candidates: []candidate.Candidate{cand(t, "c1", "NVDA", 2024, "Item 1A", nvdaRiskText, 1)},
		}},
	}

	b, err := s.Synthesize(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(llm.gotContext, "[1] [NVDA 10-K 2024, Item 1A]") {
		t.Errorf("expected numbered evidence in context, got %q", llm.gotContext)
	}
	var facts []brief.Sentence
	for _, sent := range b.Summary {
		if sent.Kind == brief.Fact {
			facts = append(facts, sent)
		}
	}
	if len(facts) != 1 || facts[0].Text != "Export rules threaten China sales." {
		t.Fatalf("expected only the grounded sentence, got %+v", facts)
	}
	if facts[0].Citations[0].ChunkID() != "c1" {
		t.Errorf("expected citation of evidence 1, got %s", facts[0].Citations[0].ChunkID())
	}
}

func TestSynthesize_LLMSummaryFallback(t *testing.T) {
	llm := &mockCompleter{err: errors.New("rate limited")}
	s := newTestService(WithCompleter(llm))
	in := Input{Evidence: []Evidence{{
		SubQuery:   subQuery(t, "NVDA export controls risk", "NVDA", 2024, 2024, "risk", 0),
		Candidates: []candidate.Candidate{cand(t, "c1", "NVDA", 2024, "Item 1A", nvdaRiskText, 1)},
	}}}

	b, err := s.Synthesize(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Summary[0].Kind != brief.Fact || !strings.HasPrefix(b.Summary[0].Text, "Export controls") {
		t.Errorf("expected extractive summary, got %+v", b.Summary[0])
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Revenue was $26.97 billion in fiscal 2023.  Gross margin improved to 56.9%! Short. Tail sentence without a final period")
	want := []string{"Revenue was $26.97 billion in fiscal 2023.", "Gross margin improved to 56.9%!", "Tail sentence without a final period"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitSentences_InvalidUTF8(t *testing.T) {
	text := "Net revenue rose in fiscal 2024 \xff\xfe on data center demand. Gaming \xc3 revenue was $10.4 billion, up 15%."
	got := splitSentences(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %q", got)
	}
	for _, s := range got {
		if !strings.Contains(text, s) {
			t.Errorf("sentence %q is not a substring of the input", s)
		}
		if strings.Contains(s, "\uFFFD") {
			t.Errorf("sentence %q carries a replacement rune", s)
		}
	}
}

func TestSynthesize_CitesChunkWithInvalidUTF8(t *testing.T) {
	s := newTestService()
	text := "Export controls may restrict sales of our \xff data center products to China. Our stock price is volatile."
	in := Input{Evidence: []Evidence{{
		SubQuery:   subQuery(t, "NVDA export controls risk 2024", "NVDA", 2024, 2024, "risk", 0),
		Candidates: []candidate.Candidate{cand(t, "nvda-2024-1a-9", "NVDA", 2024, "Item 1A", text, 1)},
	}}}

	b, err := s.Synthesize(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.Sources) != 1 {
		t.Fatalf("expected the chunk to be cited, got sources %+v", b.Sources)
	}
	if span := b.Sources[0].QuotedSpan(); !strings.Contains(text, span) {
		t.Errorf("span %q not in chunk", span)
	}
}

func TestSectionTitle(t *testing.T) {
	tests := map[string]string{
		"":                  "Filing Highlights",
		"risk factors":      "Key Risk Factors",
		"competition":       "Competitive Position",
		"business strategy": "Business Overview & Strategy",
		"AI revenue":        "AI Revenue",
		"gross margin":      "Gross Margin",
	}
	for in, want := range tests {
		if got := sectionTitle(in); got != want {
			t.Errorf("sectionTitle(%q) = %q, want %q", in, got, want)
		}
	}
}
