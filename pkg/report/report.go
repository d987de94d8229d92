// Package report aggregates recorded results into a per-branch summary
// with per-test trends and renders it in several formats.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/trendoor/pkg/store"
)

// DefaultWindow is the number of most recent builds shown per test.
const DefaultWindow = 10

// TrendLabelLayout formats build timestamps on trend charts.
const TrendLabelLayout = "2006-01-02 15:04"

// ErrUnknownOutcome is returned when the store holds an outcome outside
// the summary set.
var ErrUnknownOutcome = errors.New("unknown outcome")

// Options configures Build.
type Options struct {
	// Window is the number of recent builds per test. Zero means
	// DefaultWindow.
	Window int
	// Branch is the git branch shown in the title.
	Branch string
	// Now is the generation time. Zero means time.Now.
	Now time.Time
	// Location is used for trend labels. Nil means time.Local.
	Location *time.Location
}

// Report is the aggregated view of the store.
type Report struct {
	Branch      string    `json:"branch"`
	GeneratedAt time.Time `json:"generated_at"`
	Summary     Summary   `json:"summary"`
	Rows        []Row     `json:"rows"`
	Trends      []Trend   `json:"trends"`
}

// Summary counts the current status of every distinct test.
type Summary struct {
	Counts map[store.Outcome]int `json:"counts"`
	Total  int                   `json:"total"`
}

// SummaryEntry is one line of the summary table.
type SummaryEntry struct {
	Outcome     store.Outcome
	Label       string
	Count       int
	Color       string
	Description string
}

// Entries returns the summary lines in display order.
func (s Summary) Entries() []SummaryEntry {
	entries := make([]SummaryEntry, 0, len(store.SummaryOutcomes))

	for _, o := range store.SummaryOutcomes {
		entries = append(entries, SummaryEntry{
			Outcome:     o,
			Label:       o.Label(),
			Count:       s.Counts[o],
			Color:       o.Color(),
			Description: o.Description(),
		})
	}

	return entries
}

// Row is the latest result of one test.
type Row struct {
	Test         string        `json:"test"`
	Build        int64         `json:"build"`
	Age          time.Duration `json:"-"`
	Capabilities string        `json:"capabilities,omitempty"`
	Browser      *Browser      `json:"browser,omitempty"`
	Phase        store.Phase   `json:"phase"`
	Outcome      store.Outcome `json:"outcome"`
	Reason       string        `json:"reason,omitempty"`
	VideoURL     string        `json:"video_url,omitempty"`
	Color        string        `json:"color"`
}

// Trend is the outcome history of one test, oldest build first.
type Trend struct {
	Test   string  `json:"test"`
	Points []Point `json:"points"`
}

// Point is a single build on a trend chart.
type Point struct {
	Build   int64         `json:"build"`
	Label   string        `json:"label"`
	Outcome store.Outcome `json:"outcome"`
	Value   int           `json:"value"`
	Color   string        `json:"color"`
}

// Build reads the store and aggregates the report.
func Build(ctx context.Context, st store.Store, opts Options) (*Report, error) {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	if opts.Location == nil {
		opts.Location = time.Local
	}

	tests, err := st.ListTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tests: %w", err)
	}

	rep := &Report{
		Branch:      opts.Branch,
		GeneratedAt: opts.Now,
		Summary: Summary{
			Counts: make(map[store.Outcome]int, len(store.SummaryOutcomes)),
		},
		Rows:   make([]Row, 0, len(tests)),
		Trends: make([]Trend, 0, len(tests)),
	}

	for _, o := range store.SummaryOutcomes {
		rep.Summary.Counts[o] = 0
	}

	for _, test := range tests {
		results, err := st.ListRecentResults(ctx, test, opts.Window)
		if err != nil {
			return nil, fmt.Errorf("listing results of %q: %w", test, err)
		}

		if len(results) == 0 {
			continue
		}

		trend := Trend{Test: test, Points: make([]Point, 0, len(results))}

		for _, r := range results {
			if !r.Outcome.Known() {
				return nil, fmt.Errorf("%w %q for %q in build %d",
					ErrUnknownOutcome, r.Outcome, test, r.Build)
			}

			trend.Points = append(trend.Points, Point{
				Build:   r.Build,
				Label:   time.Unix(r.Build, 0).In(opts.Location).Format(TrendLabelLayout),
				Outcome: r.Outcome,
				Value:   r.Outcome.Value(),
				Color:   r.Outcome.Color(),
			})
		}

		latest := results[len(results)-1]

		rep.Summary.Counts[latest.Outcome]++
		rep.Summary.Total++

		rep.Rows = append(rep.Rows, newRow(&latest, opts.Now))
		rep.Trends = append(rep.Trends, trend)
	}

	return rep, nil
}

func newRow(r *store.Result, now time.Time) Row {
	row := Row{
		Test:    r.Test,
		Build:   r.Build,
		Age:     now.Sub(time.Unix(r.Build, 0)),
		Phase:   r.Phase,
		Outcome: r.Outcome,
		Color:   r.Outcome.Color(),
	}

	caps := parseCapabilities(r.Capabilities)
	row.Capabilities = formatCapabilities(caps)
	row.Browser = decodeBrowser(caps)

	if r.XFailReason != nil {
		row.Reason = *r.XFailReason
	}

	if r.VideoURL != nil {
		row.VideoURL = *r.VideoURL
	}

	return row
}
