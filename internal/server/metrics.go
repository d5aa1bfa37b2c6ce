// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const (
	namespace = "nidata"
	subsystem = "fetch"
)

// Metrics are the collectors the job manager updates.
type Metrics struct {
	Jobs            *prometheus.CounterVec
	ActiveJobs      prometheus.Gauge
	DownloadedBytes *prometheus.CounterVec
	TargetsResolved *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		Jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_total",
				Help:      "Finished fetch jobs by dataset and final status.",
			},
			[]string{"dataset", "status"},
		),
		ActiveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_active",
				Help:      "Fetch jobs currently running.",
			},
		),
		DownloadedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloaded_bytes_total",
				Help:      "Bytes downloaded by dataset.",
			},
			[]string{"dataset"},
		),
		TargetsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targets_resolved_total",
				Help:      "Manifest targets made available, by where they came from (cache or download).",
			},
			[]string{"dataset", "source"},
		),
	}
}

// MustRegister registers every collector with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Jobs, m.ActiveJobs, m.DownloadedBytes, m.TargetsResolved)
}

// Observe updates the counters driven by fetch progress events.
func (m *Metrics) Observe(ev fetcher.ProgressEvent) {
	switch ev.Event {
	case "file_done":
		if ev.Bytes > 0 {
			m.DownloadedBytes.WithLabelValues(ev.Dataset).Add(float64(ev.Bytes))
		}
	case "plan_item":
		if ev.Message == "cached" {
			m.TargetsResolved.WithLabelValues(ev.Dataset, "cache").Inc()
		}
	case "target_done":
		source := "download"
		if ev.Message == "cached" {
			source = "cache"
		}
		m.TargetsResolved.WithLabelValues(ev.Dataset, source).Inc()
	}
}
