package report

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trendoor/pkg/config"
	"github.com/ethpandaops/trendoor/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.StoreConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "summary.sqlite3"),
		},
	})
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	return st
}

func addResult(t *testing.T, st store.Store, r store.Result) {
	t.Helper()

	if r.Phase == "" {
		r.Phase = store.PhaseTeardown
	}

	require.NoError(t, st.CreateResult(context.Background(), &r))
}

func strPtr(s string) *string { return &s }

func TestBuild(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	// b gets 15 builds; only the last 10 are kept and b's latest is failed.
	for i := int64(1); i <= 15; i++ {
		outcome := store.OutcomePassed
		if i == 15 {
			outcome = store.OutcomeFailed
		}

		addResult(t, st, store.Result{Build: i * 1000, Test: "b", Outcome: outcome})
	}

	addResult(t, st, store.Result{
		Build: 15000, Test: "a::TestA::test_x", Outcome: store.OutcomeXFail,
		Phase: store.PhaseCall, XFailReason: strPtr("known bug"),
		Capabilities: `{"browserName":"chrome","name":"job","build":"7"}`,
		VideoURL:     strPtr("http://grid/video/abc.mp4"),
	})
	addResult(t, st, store.Result{Build: 15000, Test: "c", Outcome: store.OutcomeSkipped})

	now := time.Unix(16000, 0)

	rep, err := Build(ctx, st, Options{Branch: "main", Now: now, Location: time.UTC})
	require.NoError(t, err)

	assert.Equal(t, "main", rep.Branch)
	assert.Equal(t, now, rep.GeneratedAt)

	require.Len(t, rep.Rows, 3)
	assert.Equal(t, "a::TestA::test_x", rep.Rows[0].Test)
	assert.Equal(t, "b", rep.Rows[1].Test)
	assert.Equal(t, "c", rep.Rows[2].Test)

	assert.Equal(t, 3, rep.Summary.Total)
	assert.Equal(t, map[store.Outcome]int{
		store.OutcomeFailed:  1,
		store.OutcomeXFail:   1,
		store.OutcomeSkipped: 1,
		store.OutcomeXPass:   0,
		store.OutcomePassed:  0,
	}, rep.Summary.Counts)

	first := rep.Rows[0]
	assert.Equal(t, "browserName: chrome", first.Capabilities)
	require.NotNil(t, first.Browser)
	assert.Equal(t, "chrome", first.Browser.Name)
	assert.Equal(t, "known bug", first.Reason)
	assert.Equal(t, "http://grid/video/abc.mp4", first.VideoURL)
	assert.Equal(t, "#f3f657", first.Color)
	assert.Equal(t, 1000*time.Second, first.Age)

	require.Len(t, rep.Trends, 3)

	trend := rep.Trends[1]
	require.Len(t, trend.Points, DefaultWindow)
	assert.Equal(t, int64(6000), trend.Points[0].Build)
	assert.Equal(t, int64(15000), trend.Points[9].Build)
	assert.Equal(t, 5, trend.Points[9].Value)
	assert.Equal(t, "#f65757", trend.Points[9].Color)
	assert.Equal(t, "1970-01-01 01:40", trend.Points[0].Label)

	// A test with a single build has a one-point trend.
	require.Len(t, rep.Trends[2].Points, 1)
	assert.Equal(t, 3, rep.Trends[2].Points[0].Value)
}

func TestBuild_Window(t *testing.T) {
	st := setupTestStore(t)

	for i := int64(1); i <= 5; i++ {
		addResult(t, st, store.Result{Build: i, Test: "t", Outcome: store.OutcomePassed})
	}

	rep, err := Build(context.Background(), st, Options{Window: 3})
	require.NoError(t, err)
	require.Len(t, rep.Trends, 1)
	assert.Equal(t, []int64{3, 4, 5}, []int64{
		rep.Trends[0].Points[0].Build,
		rep.Trends[0].Points[1].Build,
		rep.Trends[0].Points[2].Build,
	})
}

func TestBuild_Empty(t *testing.T) {
	rep, err := Build(context.Background(), setupTestStore(t), Options{Branch: "dev"})
	require.NoError(t, err)
	assert.Zero(t, rep.Summary.Total)
	assert.Empty(t, rep.Rows)
	assert.Len(t, rep.Summary.Counts, 5)
}

func TestBuild_UnknownOutcome(t *testing.T) {
	st := setupTestStore(t)
	addResult(t, st, store.Result{Build: 1, Test: "t", Outcome: "error"})

	_, err := Build(context.Background(), st, Options{})
	require.ErrorIs(t, err, ErrUnknownOutcome)
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantDisplay string
		wantBrowser *Browser
	}{
		{name: "empty"},
		{name: "malformed", raw: "{not json"},
		{name: "only hidden keys", raw: `{"name":"n","build":"b","testFileNameTemplate":"t"}`},
		{
			name:        "sorted and stripped",
			raw:         `{"platformName":"linux","browserName":"firefox","name":"job","browserVersion":121}`,
			wantDisplay: "browserName: firefox, browserVersion: 121, platformName: linux",
			wantBrowser: &Browser{Name: "firefox", Version: "121", Platform: "linux"},
		},
		{
			name:        "legacy keys and nested values",
			raw:         `{"browserName":"chrome","version":"99","platform":"WINDOWS","goog:chromeOptions":{"args":["--headless"]}}`,
			wantDisplay: `browserName: chrome, goog:chromeOptions: {"args":["--headless"]}, platform: WINDOWS, version: 99`,
			wantBrowser: &Browser{Name: "chrome", Version: "99", Platform: "WINDOWS"},
		},
		{
			name:        "no browser details",
			raw:         `{"enableVNC":true}`,
			wantDisplay: "enableVNC: true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := parseCapabilities(tt.raw)
			assert.Equal(t, tt.wantDisplay, formatCapabilities(caps))
			assert.Equal(t, tt.wantBrowser, decodeBrowser(caps))
		})
	}
}

func TestBrowserString(t *testing.T) {
	assert.Equal(t, "chrome 120 (linux)", (&Browser{Name: "chrome", Version: "120", Platform: "linux"}).String())
	assert.Equal(t, "safari", (&Browser{Name: "safari"}).String())
}

func sampleReport() *Report {
	return &Report{
		Branch:      "feature-x",
		GeneratedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Summary: Summary{
			Counts: map[store.Outcome]int{
				store.OutcomeFailed: 1,
				store.OutcomePassed: 1,
			},
			Total: 2,
		},
		Rows: []Row{
			{
				Test: "tests/a.py::TestA::test_one", Build: 100, Age: 3 * time.Hour,
				Phase: store.PhaseCall, Outcome: store.OutcomeFailed,
				Reason: "boom", VideoURL: "http://grid/video/s1.mp4", Color: "#f65757",
			},
			{
				Test: "tests/b.py::test_<two>", Build: 100, Age: 3 * time.Hour,
				Capabilities: "browserName: chrome",
				Phase:        store.PhaseTeardown, Outcome: store.OutcomePassed, Color: "#a4f657",
			},
		},
		Trends: []Trend{
			{Test: "tests/a.py::TestA::test_one", Points: []Point{
				{Build: 50, Label: "2024-03-01 10:00", Outcome: store.OutcomePassed, Value: 1, Color: "#a4f657"},
				{Build: 100, Label: "2024-03-01 11:00", Outcome: store.OutcomeFailed, Value: 5, Color: "#f65757"},
			}},
			{Test: "tests/b.py::test_<two>", Points: []Point{
				{Build: 100, Label: "2024-03-01 11:00", Outcome: store.OutcomePassed, Value: 1, Color: "#a4f657"},
			}},
		},
	}
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, RenderHTML(&buf, sampleReport()))

	out := buf.String()

	assert.Contains(t, out, `<h1>Report of tests with "feature-x" git branch</h1>`)
	assert.Contains(t, out, `tests/a.py<br/>TestA<br/>test_one`)
	assert.Contains(t, out, `tests/b.py<br/>test_&lt;two&gt;`)
	assert.NotContains(t, out, "test_<two>")
	assert.Contains(t, out, `<a href="http://grid/video/s1.mp4" target="_blank"><i class="fas fa-film"></i></a>`)
	assert.Contains(t, out, `<i class="fas fa-minus"></i>`)
	assert.Contains(t, out, `failed<br/>boom`)
	assert.Contains(t, out, `<td><b>2</b></td>`)
	assert.Contains(t, out, `bgcolor="#f65757"`)
	assert.Contains(t, out, `id="history_1"`)
	assert.Contains(t, out, `["2024-03-01 10:00","2024-03-01 11:00"]`)
	assert.Contains(t, out, `[1,5]`)
	assert.Contains(t, out, `["Failed","XFailed","Skipped","XPassed","Passed","---"]`)
	assert.Contains(t, out, `[1,0,0,0,1]`)
}

func TestRenderHTML_EscapesBranch(t *testing.T) {
	rep := sampleReport()
	rep.Branch = `fix/<script>"x"`

	var buf bytes.Buffer

	require.NoError(t, RenderHTML(&buf, rep))

	out := buf.String()

	assert.Contains(t, out, `<h1>Report of tests with "fix/&lt;script&gt;&#34;x&#34;" git branch</h1>`)
	assert.NotContains(t, out, "<script>\"x\"")
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown(sampleReport(), 0)

	assert.Contains(t, out, "# Report of tests with \"feature-x\" git branch")
	assert.Contains(t, out, "| Failed | 1 | Test that were run and failed. |")
	assert.Contains(t, out, "| **Total** | **2** | |")
	assert.Contains(t, out,
		"| `tests/a.py::TestA::test_one` | Failed: boom ([video](http://grid/video/s1.mp4)) | call | 3 hours ago | `.F` |")
	assert.Contains(t, out, "| `tests/b.py::test_<two>` | Passed | teardown | 3 hours ago | `.` |")
}

func TestRenderMarkdown_Truncated(t *testing.T) {
	rep := sampleReport()

	header := RenderMarkdown(&Report{
		Branch: rep.Branch, GeneratedAt: rep.GeneratedAt, Summary: rep.Summary,
	}, 0)

	// Room for the table header and the first row only.
	out := RenderMarkdown(rep, len(header)+300)

	assert.Contains(t, out, "## Summary")
	assert.Contains(t, out, "test_one")
	assert.Contains(t, out, "*1 more test(s) not shown (output truncated at")
	assert.NotContains(t, out, "test_<two>")
}

func TestFormatTrend(t *testing.T) {
	assert.Empty(t, formatTrend(nil))
	assert.Equal(t, "sxX?", formatTrend(&Trend{Points: []Point{
		{Outcome: store.OutcomeSkipped},
		{Outcome: store.OutcomeXFail},
		{Outcome: store.OutcomeXPass},
		{Outcome: "other"},
	}}))
}

func TestEscapeCell(t *testing.T) {
	assert.Equal(t, `a \| b c`, escapeCell("a | b\nc"))
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, RenderJSON(&buf, sampleReport()))

	var decoded struct {
		Branch  string `json:"branch"`
		Summary struct {
			Counts map[string]int `json:"counts"`
			Total  int            `json:"total"`
		} `json:"summary"`
		Rows []struct {
			Test       string `json:"test"`
			VideoURL   string `json:"video_url"`
			AgeSeconds int64  `json:"age_seconds"`
		} `json:"rows"`
	}

	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "feature-x", decoded.Branch)
	assert.Equal(t, 2, decoded.Summary.Total)
	assert.Equal(t, 1, decoded.Summary.Counts["failed"])
	require.Len(t, decoded.Rows, 2)
	assert.Equal(t, "http://grid/video/s1.mp4", decoded.Rows[0].VideoURL)
	assert.Equal(t, int64(3*60*60), decoded.Rows[0].AgeSeconds)
	assert.NotContains(t, buf.String(), `"age":`)
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, RenderText(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "tests/a.py::TestA::test_one")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "3 hours ago")
	assert.Equal(t, 3, strings.Count(out, "■"))
}

func TestRender(t *testing.T) {
	for _, format := range []string{"", FormatHTML, FormatMarkdown, FormatJSON, FormatText} {
		t.Run("format "+format, func(t *testing.T) {
			var buf bytes.Buffer

			require.NoError(t, Render(&buf, sampleReport(), format, 0))
			assert.NotZero(t, buf.Len())
		})
	}

	require.Error(t, Render(&bytes.Buffer{}, sampleReport(), "pdf", 0))
}
