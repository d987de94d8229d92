package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/trendoor/pkg/recorder"
	"github.com/ethpandaops/trendoor/pkg/report"
)

// maxEventsBody bounds the size of an event upload.
const maxEventsBody = 64 << 20

const contentTypeNDJSON = "application/x-ndjson"

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRunResponse struct {
	Build     int64     `json:"build"`
	StartedAt time.Time `json:"started_at"`
}

// handleStartRun sweeps expired builds and assigns a new build id.
func (s *server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.recorder.StartRun(r.Context(), time.Now(), s.retention)
	if err != nil {
		s.log.WithError(err).Error("Failed to start run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to start run"})

		return
	}

	s.metrics.runsStarted.Inc()

	writeJSON(w, http.StatusCreated, startRunResponse{
		Build:     run.Build,
		StartedAt: run.StartedAt.UTC(),
	})
}

type recordResponse struct {
	Recorded int `json:"recorded"`
}

// handleRecordEvents records a single JSON event, or a batch when the body
// is sent as application/x-ndjson.
func (s *server) handleRecordEvents(w http.ResponseWriter, r *http.Request) {
	build, err := strconv.ParseInt(chi.URLParam(r, "build"), 10, 64)
	if err != nil || build <= 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid build id"})

		return
	}

	run := recorder.ResumeRun(build)
	body := http.MaxBytesReader(w, r.Body, maxEventsBody)
	recorded := 0

	record := func(event *recorder.PhaseEvent) error {
		res, err := s.recorder.Record(r.Context(), run, event)
		if err != nil {
			return err
		}

		s.metrics.eventsRecorded.
			WithLabelValues(string(event.Phase), string(res.Outcome)).Inc()

		recorded++

		return nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == contentTypeNDJSON {
		err = recorder.DecodeEvents(body, record)
	} else {
		var event recorder.PhaseEvent
		if decErr := json.NewDecoder(body).Decode(&event); decErr != nil {
			err = fmt.Errorf("%w: %w", recorder.ErrInvalidEvent, decErr)
		} else {
			err = record(&event)
		}
	}

	if err != nil {
		status, reason := http.StatusInternalServerError, "store"
		if errors.Is(err, recorder.ErrInvalidEvent) {
			status, reason = http.StatusBadRequest, "invalid"
		}

		s.metrics.eventsRejected.WithLabelValues(reason).Inc()

		s.log.WithError(err).
			WithField("build", build).
			WithField("recorded", recorded).
			Warn("Failed to record events")

		writeJSON(w, status, map[string]any{
			"error":    err.Error(),
			"recorded": recorded,
		})

		return
	}

	writeJSON(w, http.StatusOK, recordResponse{Recorded: recorded})
}

// buildReport aggregates the store for the requested branch.
func (s *server) buildReport(r *http.Request) (*report.Report, error) {
	branch := r.URL.Query().Get("branch")
	if branch == "" {
		branch = s.branch
	}

	start := time.Now()

	rep, err := report.Build(r.Context(), s.store, report.Options{
		Window: s.cfg.Report.Window,
		Branch: branch,
	})

	s.metrics.reportBuilds.Observe(time.Since(start).Seconds())

	return rep, err
}

// handleSummary returns the aggregated report as JSON.
func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	rep, err := s.buildReport(r)
	if err != nil {
		s.log.WithError(err).Error("Failed to build report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to build report"})

		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// handleReport renders the HTML report.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.buildReport(r)
	if err != nil {
		s.log.WithError(err).Error("Failed to build report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to build report"})

		return
	}

	var buf bytes.Buffer
	if err := report.RenderHTML(&buf, rep); err != nil {
		s.log.WithError(err).Error("Failed to render report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to render report"})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
