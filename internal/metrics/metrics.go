// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus metrics for searches, targets and the
// requests sent to them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/autobrr/trawl/internal/cache"
	"github.com/autobrr/trawl/internal/indexer"
)

// Metrics holds every collector trawl reports. It satisfies both the
// executor and the aggregator observer interfaces.
type Metrics struct {
	registry *prometheus.Registry

	SearchDuration   prometheus.Histogram
	SearchTotal      *prometheus.CounterVec
	SearchTargets    prometheus.Histogram
	TargetResults    *prometheus.CounterVec
	TargetReleases   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestFailures  *prometheus.CounterVec
	LoginTotal       *prometheus.CounterVec
	CooldownsActive  prometheus.GaugeFunc
	CacheEntries     prometheus.GaugeFunc
	CacheHitsTotal   prometheus.CounterFunc
	CacheMissesTotal prometheus.CounterFunc
}

// Sources are optional live values sampled at scrape time.
type Sources struct {
	Cooldowns  func() int
	CacheStats func() cache.Stats
}

// New creates the collectors on a dedicated registry.
func New(src Sources) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trawl_search_duration_seconds",
			Help:    "Time spent answering a search across all targets",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SearchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trawl_search_total",
			Help: "Total number of searches by cache outcome",
		}, []string{"cached"}),
		SearchTargets: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trawl_search_targets",
			Help:    "Number of targets dispatched per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		TargetResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trawl_target_results_total",
			Help: "Per-target search outcomes by status and failure kind",
		}, []string{"target", "status", "kind"}),
		TargetReleases: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trawl_target_releases_total",
			Help: "Releases returned per target",
		}, []string{"target"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trawl_request_duration_seconds",
			Help:    "Duration of HTTP requests sent to targets",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		RequestFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trawl_request_failures_total",
			Help: "Failed HTTP requests to targets by failure kind",
		}, []string{"target", "kind"}),
		LoginTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trawl_login_total",
			Help: "Login attempts per target by result",
		}, []string{"target", "result"}),
	}

	if src.Cooldowns != nil {
		m.CooldownsActive = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "trawl_target_cooldowns_active",
			Help: "Number of targets currently in a rate-limit cooldown",
		}, func() float64 { return float64(src.Cooldowns()) })
	}
	if src.CacheStats != nil {
		m.CacheEntries = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "trawl_search_cache_entries",
			Help: "Number of cached search responses",
		}, func() float64 { return float64(src.CacheStats().Entries) })
		m.CacheHitsTotal = factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "trawl_search_cache_hits_total",
			Help: "Search cache hits",
		}, func() float64 { return float64(src.CacheStats().Hits) })
		m.CacheMissesTotal = factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "trawl_search_cache_misses_total",
			Help: "Search cache misses",
		}, func() float64 { return float64(src.CacheStats().Misses) })
	}

	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(targetID string, kind indexer.Kind, took time.Duration) {
	m.RequestDuration.WithLabelValues(targetID).Observe(took.Seconds())
	if kind != "" {
		m.RequestFailures.WithLabelValues(targetID, string(kind)).Inc()
	}
}

func (m *Metrics) ObserveLogin(targetID string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.LoginTotal.WithLabelValues(targetID, result).Inc()
}

func (m *Metrics) ObserveSearch(took time.Duration, targets int, cached bool) {
	label := "false"
	if cached {
		label = "true"
	}
	m.SearchTotal.WithLabelValues(label).Inc()
	if !cached {
		m.SearchDuration.Observe(took.Seconds())
		m.SearchTargets.Observe(float64(targets))
	}
}

func (m *Metrics) ObserveTarget(r indexer.TargetResult) {
	m.TargetResults.WithLabelValues(r.TargetID, string(r.Status), string(r.Kind)).Inc()
	if r.Count > 0 {
		m.TargetReleases.WithLabelValues(r.TargetID).Add(float64(r.Count))
	}
}
