// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rss

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for RSS runs
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	ItemsTotal    *prometheus.CounterVec
	PlansTotal    *prometheus.CounterVec
	SiteFetchSize *prometheus.GaugeVec
	RunActive     prometheus.Gauge
}

// NewMetrics creates and registers the RSS metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subrss_rss_runs_total",
			Help: "Total number of RSS runs by final status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "subrss_rss_run_duration_seconds",
			Help:    "Time spent on a full RSS run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subrss_rss_items_total",
			Help: "Total number of feed items processed by outcome",
		}, []string{"outcome"}),
		PlansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subrss_rss_plans_total",
			Help: "Total number of subscription plans emitted by result",
		}, []string{"result"}),
		SiteFetchSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "subrss_rss_site_items",
			Help: "Number of items returned by the last fetch of each site",
		}, []string{"site"}),
		RunActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subrss_rss_run_active",
			Help: "Whether an RSS run is currently executing",
		}),
	}
}
