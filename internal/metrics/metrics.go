package metrics

/*
pawl — Palo Alto firewall URL allow-list tool in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/x-stp/pawl/internal/logger"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     atomic.Bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Search metrics
	SearchAttemptsTotal *prometheus.CounterVec
	SearchDuration      *prometheus.HistogramVec
	SearchDomainsFound  *prometheus.HistogramVec

	// Firewall API metrics
	RemoteRequestDuration *prometheus.HistogramVec
	RemoteRequestsTotal   *prometheus.CounterVec
	RemoteErrorsTotal     *prometheus.CounterVec
	RemoteRateLimit       prometheus.Gauge

	// Job metrics
	JobPollsTotal       *prometheus.CounterVec
	CommitOutcomesTotal *prometheus.CounterVec
	CommitDuration      prometheus.Histogram

	// HTTP API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled.Store(true)
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120}
	countBuckets := []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}

	return &Metrics{
		SearchAttemptsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawl_search_attempts_total",
				Help: "Total number of log search attempts",
			},
			[]string{"action", "outcome"},
		),
		SearchDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pawl_search_duration_seconds",
				Help:    "Time spent on a full search run per action",
				Buckets: buckets,
			},
			[]string{"action"},
		),
		SearchDomainsFound: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pawl_search_domains_found",
				Help:    "Distinct domains found per search run",
				Buckets: countBuckets,
			},
			[]string{"action"},
		),

		RemoteRequestDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pawl_remote_request_duration_seconds",
				Help:    "Time spent on firewall API requests",
				Buckets: buckets,
			},
			[]string{"endpoint"},
		),
		RemoteRequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawl_remote_requests_total",
				Help: "Total number of firewall API requests",
			},
			[]string{"endpoint", "status"},
		),
		RemoteErrorsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawl_remote_errors_total",
				Help: "Total number of failed firewall API requests",
			},
			[]string{"endpoint", "kind"},
		),
		RemoteRateLimit: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "pawl_remote_rate_limit",
				Help: "Current requests per second allowed towards the firewall",
			},
		),

		JobPollsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawl_job_polls_total",
				Help: "Total number of job status polls",
			},
			[]string{"kind", "status"},
		),
		CommitOutcomesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawl_commit_outcomes_total",
				Help: "Commit runs by final state",
			},
			[]string{"state"},
		),
		CommitDuration: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pawl_commit_duration_seconds",
				Help:    "Time from commit submission to the final poll",
				Buckets: buckets,
			},
		),

		HTTPRequestsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawl_http_requests_total",
				Help: "Total number of HTTP API requests served",
			},
			[]string{"route", "status"},
		),
		HTTPRequestDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pawl_http_request_duration_seconds",
				Help:    "Time spent serving HTTP API requests",
				Buckets: buckets,
			},
			[]string{"route"},
		),
	}
}

// Handler serves the metrics registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func Registry() *prometheus.Registry { return registry }

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string) error {
	if !IsMetricsEnabled() {
		return nil
	}
	log := logger.Named("metrics")
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", Handler())
		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", addr).Msg("starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	})
	return nil
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		logger.Named("metrics").Info().Msg("shutting down metrics server")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// MeasureDuration is a helper to measure the duration of a function
func MeasureDuration(histogram *prometheus.HistogramVec, labels prometheus.Labels) func() {
	if !IsMetricsEnabled() {
		return func() {}
	}
	start := time.Now()
	return func() {
		histogram.With(labels).Observe(time.Since(start).Seconds())
	}
}

// RecordSearchAttempt counts one finished search attempt.
func (m *Metrics) RecordSearchAttempt(action, outcome string) {
	if !IsMetricsEnabled() {
		return
	}
	m.SearchAttemptsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordSearch records a finished per-action search run.
func (m *Metrics) RecordSearch(action string, d time.Duration, domains int) {
	if !IsMetricsEnabled() {
		return
	}
	m.SearchDuration.WithLabelValues(action).Observe(d.Seconds())
	m.SearchDomainsFound.WithLabelValues(action).Observe(float64(domains))
}

// RecordRemoteRequest records one firewall API round trip.
func (m *Metrics) RecordRemoteRequest(endpoint, status string, d time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	m.RemoteRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RemoteRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordRemoteError counts a failed firewall API call by error kind.
func (m *Metrics) RecordRemoteError(endpoint, kind string) {
	if !IsMetricsEnabled() {
		return
	}
	m.RemoteErrorsTotal.WithLabelValues(endpoint, kind).Inc()
}

// UpdateRateLimit publishes the current firewall request rate.
func (m *Metrics) UpdateRateLimit(perSecond float64) {
	if !IsMetricsEnabled() {
		return
	}
	m.RemoteRateLimit.Set(perSecond)
}

// RecordJobPoll counts one job status observation. kind is "log" or "commit".
func (m *Metrics) RecordJobPoll(kind, status string) {
	if !IsMetricsEnabled() {
		return
	}
	m.JobPollsTotal.WithLabelValues(kind, status).Inc()
}

// RecordCommit records the final state of a commit run.
func (m *Metrics) RecordCommit(state string, d time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	m.CommitOutcomesTotal.WithLabelValues(state).Inc()
	m.CommitDuration.Observe(d.Seconds())
}

// RecordHTTPRequest counts one served API request.
func (m *Metrics) RecordHTTPRequest(route string, status int) {
	if !IsMetricsEnabled() {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
