package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ethpandaops/trendoor/pkg/config"
	"github.com/ethpandaops/trendoor/pkg/recorder"
	"github.com/ethpandaops/trendoor/pkg/store"
)

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) (*server, http.Handler) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		Store: config.StoreConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{
				Path: filepath.Join(t.TempDir(), "summary.sqlite3"),
			},
			Retention: "168h",
		},
		Report: config.ReportConfig{Window: 10},
		API: config.APIConfig{
			Server:  config.APIServerConfig{Listen: "127.0.0.1:0"},
			Metrics: config.APIMetricsConfig{Enabled: true},
		},
	}

	if mutate != nil {
		mutate(cfg)
	}

	st := store.NewStore(log, &cfg.Store)
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	s := &server{
		log:       log,
		cfg:       cfg,
		branch:    "main",
		retention: 7 * 24 * time.Hour,
		store:     st,
		recorder:  recorder.NewRecorder(log, st, nil),
		metrics:   newMetrics(),
	}

	return s, s.buildRouter()
}

func do(
	t *testing.T, h http.Handler, method, path, contentType, body string,
	headers ...string,
) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHandleHealth(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRunLifecycle(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/runs", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var run startRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Positive(t, run.Build)

	eventsPath := "/api/v1/runs/" + strconv.FormatInt(run.Build, 10) + "/events"

	rec = do(t, h, http.MethodPost, eventsPath, "application/json",
		`{"test":"tests/a.py::test_ok","phase":"setup","outcome":"passed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recorded":1}`, rec.Body.String())

	batch := strings.Join([]string{
		`{"test":"tests/a.py::test_bug","phase":"setup","outcome":"passed"}`,
		`{"test":"tests/a.py::test_bug","phase":"call","outcome":"skipped","keywords":["xfail"],"markers":[{"name":"xfail","kwargs":{"reason":"known bug"}}]}`,
		`{"test":"tests/a.py::test_bug","phase":"teardown","outcome":"skipped"}`,
		``,
	}, "\n")

	rec = do(t, h, http.MethodPost, eventsPath, "application/x-ndjson", batch)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recorded":3}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/summary", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		Branch  string `json:"branch"`
		Summary struct {
			Counts map[string]int `json:"counts"`
			Total  int            `json:"total"`
		} `json:"summary"`
		Rows []struct {
			Test   string `json:"test"`
			Reason string `json:"reason"`
		} `json:"rows"`
	}

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "main", summary.Branch)
	assert.Equal(t, 2, summary.Summary.Total)
	assert.Equal(t, 1, summary.Summary.Counts["xfail"])
	assert.Equal(t, 1, summary.Summary.Counts["passed"])
	require.Len(t, summary.Rows, 2)
	assert.Equal(t, "tests/a.py::test_bug", summary.Rows[0].Test)
	assert.Equal(t, "known bug", summary.Rows[0].Reason)

	rec = do(t, h, http.MethodGet, "/api/v1/report?branch=feature", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `<h1>Report of tests with "feature" git branch</h1>`)
	assert.Contains(t, rec.Body.String(), "tests/a.py<br/>test_bug")

	rec = do(t, h, http.MethodGet, "/api/v1/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `trendoor_events_recorded_total{outcome="xfail",phase="call"} 1`)
	assert.Contains(t, rec.Body.String(), "trendoor_runs_started_total 1")
}

func TestRecordEvents_Errors(t *testing.T) {
	_, h := newTestServer(t, nil)

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		wantStatus  int
	}{
		{
			name: "bad build", path: "/api/v1/runs/abc/events",
			contentType: "application/json", body: `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "malformed json", path: "/api/v1/runs/100/events",
			contentType: "application/json", body: `{"test":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid event", path: "/api/v1/runs/100/events",
			contentType: "application/json", body: `{"test":"t","phase":"collect","outcome":"passed"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "bad ndjson line", path: "/api/v1/runs/100/events",
			contentType: "application/x-ndjson",
			body:        "{\"test\":\"t\",\"phase\":\"setup\",\"outcome\":\"passed\"}\nnope\n",
			wantStatus:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.contentType, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestRequireToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	_, h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Auth.TokenHashes = []string{string(hash)}
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic s3cret", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid", header: "Bearer s3cret", wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var headers []string
			if tt.header != "" {
				headers = []string{"Authorization", tt.header}
			}

			rec := do(t, h, http.MethodPost, "/api/v1/runs", "", "", headers...)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	// Read endpoints stay open.
	rec := do(t, h, http.MethodGet, "/api/v1/summary", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsDisabled(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Metrics.Enabled = false
	})

	rec := do(t, h, http.MethodGet, "/api/v1/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Server.RateLimit = config.RateLimitConfig{
			Enabled: true,
			Ingest:  config.RateLimitTier{RequestsPerMinute: 1},
			Read:    config.RateLimitTier{RequestsPerMinute: 100},
		}
	})

	rec := do(t, h, http.MethodPost, "/api/v1/runs", "", "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/runs", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client has its own bucket.
	rec = do(t, h, http.MethodPost, "/api/v1/runs", "", "", "X-Forwarded-For", "10.0.0.9")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/summary", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterMap_Eviction(t *testing.T) {
	rl := newRateLimiterMap(1)
	now := time.Now()

	assert.True(t, rl.allow("a", now))
	assert.False(t, rl.allow("a", now))
	assert.True(t, rl.allow("b", now))

	later := now.Add(rateLimitCleanupInterval + rateLimitEntryTTL)
	assert.True(t, rl.allow("c", later))

	rl.mu.Lock()
	defer rl.mu.Unlock()

	assert.Len(t, rl.limiters, 1)
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{name: "remote addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "forwarded chain", xff: "203.0.113.5, 10.0.0.1", remote: "10.0.0.1:80", want: "203.0.113.5"},
		{name: "bare remote", remote: "pipe", want: "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote

			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, extractIP(req))
		})
	}
}

func TestGenerateToken(t *testing.T) {
	token, hash, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, token, 2*tokenBytes)
	assert.True(t, checkToken([]string{"not-a-hash", hash}, token))
	assert.False(t, checkToken([]string{hash}, token+"x"))
}

func TestServerStartStop(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	srv := NewServer(log, &config.Config{
		Store: config.StoreConfig{
			Driver:    "sqlite",
			SQLite:    config.SQLiteDatabaseConfig{Path: filepath.Join(t.TempDir(), "s.sqlite3")},
			Retention: "168h",
		},
		API: config.APIConfig{Server: config.APIServerConfig{Listen: "127.0.0.1:0"}},
	}, "main")

	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop())
}
