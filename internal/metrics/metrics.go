// Package metrics exposes Prometheus instrumentation for the HTTP API, the
// backend executor and the request cache.
package metrics

import (
	"context"
	"net/http"

	"github.com/aevon-lab/tally/internal/core/cache"
	"github.com/aevon-lab/tally/internal/core/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	BackendQueriesTotal  *prometheus.CounterVec
	BackendQueryDuration *prometheus.HistogramVec
	BackendQueryRows     *prometheus.HistogramVec
	BackendSlowQueries   *prometheus.CounterVec
}

// New registers all collectors on reg. A nil reg gets a fresh registry with
// the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      MetricNameHTTPRequestsTotal,
				Help:      HelpTextHTTPRequestsTotal,
			},
			[]string{LabelMethod, LabelPath, LabelStatus},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      MetricNameHTTPRequestDuration,
				Help:      HelpTextHTTPRequestDuration,
				Buckets:   HTTPLatencyBuckets,
			},
			[]string{LabelMethod, LabelPath},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      MetricNameHTTPRequestsInFlight,
				Help:      HelpTextHTTPRequestsInFlight,
			},
		),

		BackendQueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      MetricNameBackendQueriesTotal,
				Help:      HelpTextBackendQueriesTotal,
			},
			[]string{LabelCollection, LabelOutcome},
		),
		BackendQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      MetricNameBackendQueryDuration,
				Help:      HelpTextBackendQueryDuration,
				Buckets:   BackendLatencyBuckets,
			},
			[]string{LabelCollection},
		),
		BackendQueryRows: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      MetricNameBackendQueryRows,
				Help:      HelpTextBackendQueryRows,
				Buckets:   RowCountBuckets,
			},
			[]string{LabelCollection},
		),
		BackendSlowQueries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      MetricNameBackendSlowQueries,
				Help:      HelpTextBackendSlowQueries,
			},
			[]string{LabelCollection},
		),
	}
}

// RecordQuery implements executor.Recorder.
func (m *Metrics) RecordQuery(_ context.Context, stat storage.QueryStat) {
	outcome := OutcomeOK
	if stat.Error != "" {
		outcome = OutcomeError
	}
	m.BackendQueriesTotal.WithLabelValues(stat.Collection, outcome).Inc()
	m.BackendQueryDuration.WithLabelValues(stat.Collection).Observe(stat.Duration.Seconds())
	m.BackendQueryRows.WithLabelValues(stat.Collection).Observe(float64(stat.Rows))
	if stat.Slow {
		m.BackendSlowQueries.WithLabelValues(stat.Collection).Inc()
	}
}

// ObserveCache exports the counters returned by stats, read at scrape time.
func (m *Metrics) ObserveCache(stats func() cache.Stats) {
	f := promauto.With(m.registry)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      MetricNameCacheEntries,
		Help:      HelpTextCacheEntries,
	}, func() float64 { return float64(stats().Entries) })

	counters := []struct {
		name, help string
		read       func(cache.Stats) int64
	}{
		{MetricNameCacheHits, HelpTextCacheHits, func(s cache.Stats) int64 { return s.Hits }},
		{MetricNameCacheMisses, HelpTextCacheMisses, func(s cache.Stats) int64 { return s.Misses }},
		{MetricNameCacheExpired, HelpTextCacheExpired, func(s cache.Stats) int64 { return s.Expired }},
		{MetricNameCacheInvalidations, HelpTextCacheInvalidations, func(s cache.Stats) int64 { return s.Invalidations }},
	}
	for _, c := range counters {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(c.read(stats())) })
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
