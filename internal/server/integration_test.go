// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

//go:build integration

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"
)

// getFreePort finds an available port
func getFreePort() int {
	l, _ := net.Listen("tcp", "127.0.0.1:0")
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// These tests require network access and actually download the MSDL atlas.
// Run with: go test -tags=integration -v ./internal/server/

func startServer(t *testing.T) string {
	t.Helper()
	port := getFreePort()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1"
	cfg.Port = port
	cfg.DataDir = t.TempDir()

	srv := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv.jobs.Wait()
	})

	go srv.ListenAndServe(ctx)
	time.Sleep(200 * time.Millisecond)

	return "http://127.0.0.1:" + strconv.Itoa(port)
}

func TestIntegration_FullFetchFlow(t *testing.T) {
	baseURL := startServer(t)

	t.Run("health check", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/health")
		if err != nil {
			t.Fatalf("Health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("start fetch and track progress", func(t *testing.T) {
		body := `{"dataset": "msdl_atlas"}`
		resp, err := http.Post(baseURL+"/api/fetch", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("Start fetch failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != 202 {
			t.Fatalf("Expected 202, got %d", resp.StatusCode)
		}

		var job Job
		json.NewDecoder(resp.Body).Decode(&job)

		if job.ID == "" {
			t.Error("Job ID should not be empty")
		}

		timeout := time.After(120 * time.Second)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-timeout:
				t.Fatal("Fetch timed out")
			case <-ticker.C:
				jobResp, _ := http.Get(baseURL + "/api/jobs/" + job.ID)
				var current Job
				json.NewDecoder(jobResp.Body).Decode(&current)
				jobResp.Body.Close()

				t.Logf("Job status: %s, targets: %d/%d",
					current.Status, current.Progress.ResolvedTargets, current.Progress.TotalTargets)

				if current.Status == JobStatusCompleted {
					return
				}
				if current.Status == JobStatusFailed {
					t.Fatalf("Fetch failed: %s", current.Error)
				}
			}
		}
	})
}

func TestIntegration_DryRun(t *testing.T) {
	baseURL := startServer(t)

	body := `{"dataset": "haxby_etal_2001", "params": {"n_subjects": 2}}`
	resp, err := http.Post(baseURL+"/api/plan", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("Plan request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var plan PlanResponse
	json.NewDecoder(resp.Body).Decode(&plan)

	if plan.TotalFiles == 0 {
		t.Error("Expected files in plan")
	}
	for _, f := range plan.Files {
		t.Logf("  %s <- %s (cached=%v)", f.Path, f.URL, f.Cached)
	}
}
