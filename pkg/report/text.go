package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"
)

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Underline(true)
	styleHeader = lipgloss.NewStyle().Bold(true)
	styleDim    = lipgloss.NewStyle().Faint(true)
)

// RenderText writes a coloured terminal summary of the report.
func RenderText(w io.Writer, rep *Report) error {
	var sb strings.Builder

	sb.WriteString(styleTitle.Render(fmt.Sprintf("Tests on %q", rep.Branch)))
	sb.WriteString("\n\n")

	for _, e := range rep.Summary.Entries() {
		label := lipgloss.NewStyle().
			Foreground(lipgloss.Color(e.Color)).
			Width(8).
			Render(e.Label)

		fmt.Fprintf(&sb, "%s %4d\n", label, e.Count)
	}

	fmt.Fprintf(&sb, "%s %4d\n\n", styleHeader.Width(8).Render("Total"), rep.Summary.Total)

	trends := make(map[string]*Trend, len(rep.Trends))
	for i := range rep.Trends {
		trends[rep.Trends[i].Test] = &rep.Trends[i]
	}

	for i := range rep.Rows {
		r := &rep.Rows[i]

		status := lipgloss.NewStyle().
			Foreground(lipgloss.Color(r.Color)).
			Width(8).
			Render(r.Outcome.Label())

		fmt.Fprintf(&sb, "%s %s %s\n", status, formatTrendBlocks(trends[r.Test]), r.Test)

		details := make([]string, 0, 3)

		if r.Reason != "" {
			details = append(details, r.Reason)
		}

		if r.Browser != nil {
			details = append(details, r.Browser.String())
		}

		details = append(details, units.HumanDuration(r.Age)+" ago")

		sb.WriteString(styleDim.Render("         "+strings.Join(details, " | ")))
		sb.WriteByte('\n')
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("writing text report: %w", err)
	}

	return nil
}

// formatTrendBlocks renders a trend as one coloured block per build,
// padded to DefaultWindow so test names line up.
func formatTrendBlocks(t *Trend) string {
	var sb strings.Builder

	n := 0

	if t != nil {
		for _, p := range t.Points {
			sb.WriteString(lipgloss.NewStyle().
				Foreground(lipgloss.Color(p.Color)).
				Render("■"))

			n++
		}
	}

	for ; n < DefaultWindow; n++ {
		sb.WriteByte(' ')
	}

	return sb.String()
}
