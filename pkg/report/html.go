package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/ethpandaops/trendoor/pkg/store"
)

//go:embed templates/summary.html.tmpl
var templatesFS embed.FS

var summaryTemplate = template.Must(
	template.New("summary.html.tmpl").
		Funcs(template.FuncMap{"testLines": testLines}).
		ParseFS(templatesFS, "templates/summary.html.tmpl"),
)

// testLines splits a test id on "::" so each node is shown on its own
// line.
func testLines(test string) []string {
	return strings.Split(test, "::")
}

// Labels returns the x-axis labels of the trend chart.
func (t Trend) Labels() []string {
	out := make([]string, len(t.Points))
	for i, p := range t.Points {
		out[i] = p.Label
	}

	return out
}

// Values returns the bar heights of the trend chart.
func (t Trend) Values() []int {
	out := make([]int, len(t.Points))
	for i, p := range t.Points {
		out[i] = p.Value
	}

	return out
}

// Colors returns the bar colours of the trend chart.
func (t Trend) Colors() []string {
	out := make([]string, len(t.Points))
	for i, p := range t.Points {
		out[i] = p.Color
	}

	return out
}

type pieChart struct {
	Labels []string
	Values []int
	Colors []string
}

type htmlView struct {
	*Report
	Pie        pieChart
	AxisLabels []string
}

// RenderHTML writes the report as a self-contained HTML page.
func RenderHTML(w io.Writer, rep *Report) error {
	view := htmlView{Report: rep}

	for _, e := range rep.Summary.Entries() {
		view.Pie.Labels = append(view.Pie.Labels, e.Label)
		view.Pie.Values = append(view.Pie.Values, e.Count)
		view.Pie.Colors = append(view.Pie.Colors, e.Color)
	}

	// Category axes list labels top-down, so the highest value comes
	// first and the unused zero slot last.
	for _, o := range store.SummaryOutcomes {
		view.AxisLabels = append(view.AxisLabels, o.Label())
	}

	view.AxisLabels = append(view.AxisLabels, "---")

	if err := summaryTemplate.Execute(w, view); err != nil {
		return fmt.Errorf("rendering html: %w", err)
	}

	return nil
}
