package brief

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/filingbrief/internal/domain/market"
)

// NoEvidenceText marks a block whose scope produced no retrievable evidence.
const NoEvidenceText = "No evidence found in indexed 10-K filings for this scope."

const rule = "\n---\n\n"

// Markdown renders the brief. Rendering is pure: the same brief always renders identically.
func (b Brief) Markdown() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n", b.Title)
	fmt.Fprintf(&sb, "*Generated: %s*\n", b.GeneratedAt.UTC().Format(time.RFC3339))
	sb.WriteString(rule)

	sb.WriteString("## Executive Summary\n\n")
	if len(b.Summary) == 0 {
		sb.WriteString("No summary available.\n")
	}
	for _, s := range b.Summary {
		sb.WriteString(renderSentence(s))
		sb.WriteString("\n")
	}
	sb.WriteString(rule)

	sb.WriteString("## Current Market Metrics\n\n")
	writeMarkets(&sb, b.Markets)

	for _, sec := range b.Sections {
		sb.WriteString(rule)
		fmt.Fprintf(&sb, "## %s\n", sec.Title)
		for _, blk := range sec.Blocks {
			fmt.Fprintf(&sb, "\n### %s\n\n", blk.Heading)
			if blk.NoEvidence {
				sb.WriteString("- *" + NoEvidenceText + "*")
				if blk.Gap != "" {
					fmt.Fprintf(&sb, " (%s)", blk.Gap)
				}
				sb.WriteString("\n")
				continue
			}
			for _, s := range blk.Sentences {
				sb.WriteString("- ")
				sb.WriteString(renderSentence(s))
				sb.WriteString("\n")
			}
		}
	}

	sb.WriteString(rule)
	sb.WriteString("## Sources\n\n")
	if len(b.Sources) == 0 {
		sb.WriteString("No filing sources cited.\n")
	}
	for i, c := range b.Sources {
		fmt.Fprintf(&sb, "%d. %s chunk `%s`\n", i+1, c.Label(), c.ChunkID())
	}

	sb.WriteString(rule)
	sb.WriteString("## Audit Caveats\n\n")
	if len(b.Findings) == 0 && len(b.Warnings) == 0 {
		sb.WriteString("No audit findings.\n")
	}
	for _, w := range b.Warnings {
		fmt.Fprintf(&sb, "- Warning: %s\n", w)
	}
	for _, f := range b.Findings {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	sb.WriteString("\n*Note: This is an analytical brief, not investment advice.*\n")

	return sb.String()
}

func renderSentence(s Sentence) string {
	if len(s.Citations) == 0 {
		return s.Text
	}
	labels := make([]string, 0, len(s.Citations))
	for _, c := range s.Citations {
		labels = append(labels, c.Label())
	}
	return s.Text + " " + strings.Join(labels, " ")
}

func writeMarkets(sb *strings.Builder, snaps []market.Snapshot) {
	if len(snaps) == 0 {
		sb.WriteString("Market data unavailable.\n")
		return
	}
	for i, s := range snaps {
		if i > 0 {
			sb.WriteString("\n")
		}
		if len(snaps) > 1 {
			fmt.Fprintf(sb, "### %s\n\n", s.Ticker)
		}
		sb.WriteString("| Metric | Value | As of |\n")
		sb.WriteString("|--------|-------|-------|\n")
		writeRow(sb, "Current Price", s.Price, market.FormatPrice)
		writeRow(sb, "Market Cap", s.MarketCap, func(v float64) string { return market.FormatCompact(v, true) })
		writeRow(sb, "Shares Outstanding", s.SharesOutstanding, func(v float64) string { return market.FormatCompact(v, false) })
		if s.FiftyTwoWeekLow.Valid && s.FiftyTwoWeekHigh.Valid {
			fmt.Fprintf(sb, "| **52-Week Range** | %s - %s | %s |\n",
				market.FormatPrice(s.FiftyTwoWeekLow.Value), market.FormatPrice(s.FiftyTwoWeekHigh.Value),
				s.FiftyTwoWeekHigh.FetchedAt.Format(time.RFC3339))
		} else {
			sb.WriteString("| **52-Week Range** | N/A | |\n")
		}
		writeRow(sb, "P/E Ratio", s.PERatio, market.FormatRatio)
		writeRow(sb, "Beta", s.Beta, market.FormatRatio)
		writeRow(sb, "Dividend Yield", s.DividendYield, market.FormatPercent)
		source := s.Source
		if source == "" {
			source = "market data provider"
		}
		fmt.Fprintf(sb, "\n*Source: %s, %s*\n", source, s.LatestFetch().Format(time.RFC3339))
	}
}

func writeRow(sb *strings.Builder, name string, f market.Field, format func(float64) string) {
	if !f.Valid {
		fmt.Fprintf(sb, "| **%s** | N/A | |\n", name)
		return
	}
	fmt.Fprintf(sb, "| **%s** | %s | %s |\n", name, format(f.Value), f.FetchedAt.Format(time.RFC3339))
}
