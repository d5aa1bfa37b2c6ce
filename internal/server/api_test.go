// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/roshan-srin/nidata/pkg/dataset/datasettest"
)

func newTestServer(t *testing.T, client *http.Client) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := DefaultConfig()
	cfg.Version = "test"
	cfg.DataDir = t.TempDir()
	cfg.Settings.Retries = 0
	cfg.Logger = logger
	cfg.HTTPClient = client

	s := New(cfg)
	t.Cleanup(func() {
		s.jobs.CancelAll()
		s.jobs.Wait()
	})
	return s
}

func msdlServer(t *testing.T) *datasettest.Server {
	return datasettest.NewServer(t, map[string][]byte{
		"/parietal/files/2015/01/MSDL_rois.zip": datasettest.Zip(t, map[string]string{
			"MSDL_rois/msdl_rois_labels.csv": "x,y,z,name,net name\n",
			"MSDL_rois/msdl_rois.nii":        "maps",
		}),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t, nil)

	w := do(t, srv.Handler(), "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("Expected version test, got %v", resp["version"])
	}
}

func TestAPI_ListDatasets(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	var resp struct {
		Datasets []struct {
			Name     string `json:"name"`
			Modality string `json:"modality"`
		} `json:"datasets"`
		Count int `json:"count"`
	}
	w := do(t, h, "GET", "/api/datasets", "")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 12 || len(resp.Datasets) != 12 {
		t.Errorf("Expected 12 datasets, got %d", resp.Count)
	}

	w = do(t, h, "GET", "/api/datasets?modality=atlas", "")
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count == 0 {
		t.Fatal("Expected atlases")
	}
	for _, d := range resp.Datasets {
		if d.Modality != "atlas" {
			t.Errorf("Unexpected modality %s for %s", d.Modality, d.Name)
		}
	}
}

func TestAPI_GetDataset(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	w := do(t, h, "GET", "/api/datasets/nyu_rest", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"sessions"`) {
		t.Errorf("Unexpected response %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, "GET", "/api/datasets/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestAPI_GetSettings_PasswordMasked(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.config.Settings.Username = "alice"
	srv.config.Settings.Password = "s3cret-passw0rd"

	w := do(t, srv.Handler(), "GET", "/api/settings", "")

	var resp SettingsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Password != "********" {
		t.Errorf("Expected masked password, got %s", resp.Password)
	}
	if resp.Username != "alice" {
		t.Errorf("Expected username alice, got %s", resp.Username)
	}
	if resp.DataDir != srv.config.DataDir {
		t.Errorf("Expected dataDir %s, got %s", srv.config.DataDir, resp.DataDir)
	}
}

func TestAPI_UpdateSettings(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	w := do(t, h, "POST", "/api/settings", `{"connections": 16, "maxActive": 8, "keepArchives": true}`)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	cfg := srv.settings()
	if cfg.Concurrency != 16 {
		t.Errorf("Expected concurrency 16, got %d", cfg.Concurrency)
	}
	if cfg.MaxActiveDownloads != 8 {
		t.Errorf("Expected maxActive 8, got %d", cfg.MaxActiveDownloads)
	}
	if !cfg.KeepArchives {
		t.Error("Expected keepArchives to be set")
	}

	if w := do(t, h, "POST", "/api/settings", `{"multipartThreshold": "lots"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad size, got %d", w.Code)
	}
	if srv.settings().MultipartThreshold != "64MiB" {
		t.Errorf("Threshold should be unchanged, got %s", srv.settings().MultipartThreshold)
	}
}

func TestAPI_UpdateSettings_CantChangeDataDir(t *testing.T) {
	srv := newTestServer(t, nil)
	original := srv.config.DataDir

	do(t, srv.Handler(), "POST", "/api/settings", `{"dataDir": "/etc"}`)

	if srv.config.DataDir != original {
		t.Errorf("DataDir should not be changeable via API! Got %s", srv.config.DataDir)
	}
}

func TestAPI_StartFetch_Validates(t *testing.T) {
	fake := msdlServer(t)
	srv := newTestServer(t, fake.Client())

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"missing dataset", `{}`, http.StatusBadRequest},
		{"unknown dataset", `{"dataset": "imagenet"}`, http.StatusBadRequest},
		{"unknown parameter", `{"dataset": "msdl_atlas", "params": {"n_subjects": 3}}`, http.StatusBadRequest},
		{"unsupported value", `{"dataset": "nyu_rest", "params": {"sessions": {"a": 1}}}`, http.StatusBadRequest},
		{"malformed body", `{"dataset":`, http.StatusBadRequest},
		{"valid", `{"dataset": "msdl_atlas"}`, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv.Handler(), "POST", "/api/fetch", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d. Body: %s", tt.wantCode, w.Code, w.Body.String())
			}
		})
	}
}

func TestAPI_StartFetch_DataDirIgnored(t *testing.T) {
	fake := msdlServer(t)
	srv := newTestServer(t, fake.Client())

	w := do(t, srv.Handler(), "POST", "/api/fetch", `{"dataset": "msdl_atlas", "dataDir": "/etc/evil"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	var resp Job
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.DataDir != srv.config.DataDir {
		t.Errorf("Expected server-controlled data dir, got %s", resp.DataDir)
	}
	if resp.Dataset != "msdl_atlas" || resp.ID == "" {
		t.Errorf("Unexpected job %+v", resp)
	}
}

func TestAPI_Plan(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	w := do(t, h, "POST", "/api/plan", `{"dataset": "msdl_atlas"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var plan PlanResponse
	json.Unmarshal(w.Body.Bytes(), &plan)
	if plan.TotalFiles != 2 || plan.Missing != 2 || plan.Cached != 0 {
		t.Errorf("Unexpected plan %+v", plan)
	}
	if plan.Files[0].URL != "https://team.inria.fr/parietal/files/2015/01/MSDL_rois.zip" {
		t.Errorf("Unexpected URL %s", plan.Files[0].URL)
	}

	// numbers are accepted for parameters
	w = do(t, h, "POST", "/api/plan", `{"dataset": "nyu_rest", "params": {"n_subjects": 30, "sessions": [1, 2]}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	plan = PlanResponse{}
	json.Unmarshal(w.Body.Bytes(), &plan)
	if len(plan.Warnings) != 1 {
		t.Errorf("Expected a clamping warning, got %v", plan.Warnings)
	}
	if plan.TotalFiles != 2*3*25 {
		t.Errorf("Expected %d files, got %d", 2*3*25, plan.TotalFiles)
	}

	if len(srv.jobs.ListJobs()) != 0 {
		t.Error("Planning must not create jobs")
	}
}

func TestAPI_JobsRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	w := do(t, h, "GET", "/api/jobs", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"count":0`) {
		t.Errorf("Unexpected jobs listing %d %s", w.Code, w.Body.String())
	}
	if w := do(t, h, "GET", "/api/jobs/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := do(t, h, "DELETE", "/api/jobs/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestAPI_CORS(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.config.AllowedOrigins = []string{"http://lab.example"}
	h := srv.Handler()

	req := httptest.NewRequest("OPTIONS", "/api/fetch", nil)
	req.Header.Set("Origin", "http://lab.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "http://lab.example" {
		t.Errorf("Unexpected preflight response %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Unlisted origins must not be allowed")
	}
}
