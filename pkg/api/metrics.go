package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "trendoor"

// metrics holds the server's collectors on a private registry.
type metrics struct {
	registry *prometheus.Registry

	// runsStarted counts runs started through the API.
	runsStarted prometheus.Counter

	// eventsRecorded counts recorded phase events by stored outcome.
	eventsRecorded *prometheus.CounterVec

	// eventsRejected counts events that failed validation or storage.
	eventsRejected *prometheus.CounterVec

	// reportBuilds times report aggregation.
	reportBuilds prometheus.Histogram

	// requestDuration is a histogram of HTTP request duration.
	requestDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of test runs started",
		}),
		eventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_recorded_total",
				Help:      "Total number of phase events recorded",
			},
			[]string{"phase", "outcome"},
		),
		eventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Total number of phase events that could not be recorded",
			},
			[]string{"reason"}, // reason: invalid, store
		),
		reportBuilds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_build_duration_seconds",
			Help:      "Histogram of report aggregation duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.eventsRecorded,
		m.eventsRejected,
		m.reportBuilds,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *metrics) observeRequest(method, route, status string, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
