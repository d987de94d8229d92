package report

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"

	"github.com/ethpandaops/trendoor/pkg/store"
)

// trendSymbols are the compact per-build markers used in markdown trends.
var trendSymbols = map[store.Outcome]string{
	store.OutcomePassed:  ".",
	store.OutcomeXPass:   "X",
	store.OutcomeSkipped: "s",
	store.OutcomeXFail:   "x",
	store.OutcomeFailed:  "F",
}

// RenderMarkdown renders the report for CI step summaries. The output is
// capped at maxChars characters; the results table is truncated first.
func RenderMarkdown(rep *Report, maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	writeTitle(&sb, rep)
	writeSummary(&sb, &rep.Summary)

	// Results go last so they are the part that gets truncated.
	writeResults(&sb, rep, maxChars)

	return sb.String()
}

func writeTitle(sb *strings.Builder, rep *Report) {
	fmt.Fprintf(sb, "# Report of tests with %q git branch\n\n", rep.Branch)
	fmt.Fprintf(sb, "Generated %s\n\n",
		rep.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
}

func writeSummary(sb *strings.Builder, s *Summary) {
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Status | # | Description |\n")
	sb.WriteString("|---|---|---|\n")

	for _, e := range s.Entries() {
		fmt.Fprintf(sb, "| %s | %d | %s |\n", e.Label, e.Count, e.Description)
	}

	fmt.Fprintf(sb, "| **Total** | **%d** | |\n\n", s.Total)
}

func writeResults(sb *strings.Builder, rep *Report, maxChars int) {
	if len(rep.Rows) == 0 {
		return
	}

	trends := make(map[string]*Trend, len(rep.Trends))
	for i := range rep.Trends {
		trends[rep.Trends[i].Test] = &rep.Trends[i]
	}

	sb.WriteString("## Latest results\n\n")
	sb.WriteString("| Test | Outcome | Phase | Age | Trend |\n")
	sb.WriteString("|---|---|---|---|---|\n")

	// Reserve space for the truncation message.
	const reserveChars = 100

	for i := range rep.Rows {
		row := formatResultRow(&rep.Rows[i], trends[rep.Rows[i].Test])

		if maxChars > 0 && sb.Len()+len(row)+reserveChars > maxChars {
			remaining := len(rep.Rows) - i
			fmt.Fprintf(sb,
				"\n*%d more test(s) not shown "+
					"(output truncated at %d chars)*\n",
				remaining, maxChars)

			return
		}

		sb.WriteString(row)
	}
}

func formatResultRow(r *Row, trend *Trend) string {
	outcome := r.Outcome.Label()
	if r.Reason != "" {
		outcome += ": " + escapeCell(r.Reason)
	}

	if r.VideoURL != "" {
		outcome += fmt.Sprintf(" ([video](%s))", r.VideoURL)
	}

	return fmt.Sprintf("| `%s` | %s | %s | %s | `%s` |\n",
		r.Test, outcome, r.Phase, formatAge(r), formatTrend(trend))
}

// formatAge renders how long ago the row's build started.
func formatAge(r *Row) string {
	if r.Age <= 0 {
		return "now"
	}

	return units.HumanDuration(r.Age) + " ago"
}

// formatTrend renders a trend oldest first, one symbol per build.
func formatTrend(t *Trend) string {
	if t == nil {
		return ""
	}

	var sb strings.Builder

	for _, p := range t.Points {
		sym, ok := trendSymbols[p.Outcome]
		if !ok {
			sym = "?"
		}

		sb.WriteString(sym)
	}

	return sb.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)

	return strings.ReplaceAll(s, "\n", " ")
}
