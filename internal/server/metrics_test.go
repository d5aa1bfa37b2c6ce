// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	m.MustRegister(reg)

	for _, ev := range []fetcher.ProgressEvent{
		{Event: "plan_item", Dataset: "yeo_2011", Message: "cached"},
		{Event: "plan_item", Dataset: "yeo_2011", Message: "missing"},
		{Event: "file_done", Dataset: "yeo_2011", Bytes: 2048, Total: 2048},
		{Event: "file_done", Dataset: "yeo_2011", Message: "skip (already downloaded)"},
		{Event: "target_done", Dataset: "yeo_2011"},
		{Event: "target_done", Dataset: "yeo_2011", Message: "cached"},
	} {
		m.Observe(ev)
	}

	if v := counterValue(t, reg, "nidata_downloaded_bytes_total", map[string]string{"dataset": "yeo_2011"}); v != 2048 {
		t.Errorf("Expected 2048 bytes, got %v", v)
	}
	if v := counterValue(t, reg, "nidata_targets_resolved_total", map[string]string{"dataset": "yeo_2011", "source": "cache"}); v != 2 {
		t.Errorf("Expected 2 cached targets, got %v", v)
	}
	if v := counterValue(t, reg, "nidata_targets_resolved_total", map[string]string{"dataset": "yeo_2011", "source": "download"}); v != 1 {
		t.Errorf("Expected 1 downloaded target, got %v", v)
	}
}

func TestMetrics_Endpoint(t *testing.T) {
	fake := msdlServer(t)
	srv := newTestServer(t, fake.Client())

	srv.jobs.CreateJob(FetchRequest{Dataset: "msdl_atlas"})
	srv.jobs.Wait()

	w := do(t, srv.Handler(), "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		`nidata_fetch_jobs_total{dataset="msdl_atlas",status="completed"} 1`,
		`nidata_fetch_jobs_active 0`,
		`nidata_targets_resolved_total{dataset="msdl_atlas",source="download"} 2`,
		`nidata_downloaded_bytes_total{dataset="msdl_atlas"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected %q in metrics output:\n%s", want, body)
		}
	}
}
