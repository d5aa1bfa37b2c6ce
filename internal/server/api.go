// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

// FetchRequest is the request body for starting a fetch or planning one.
// Parameter values may be strings, numbers, booleans or lists; lists are
// joined with commas.
// Note: the data directory is NOT configurable via the API.
type FetchRequest struct {
	Dataset string         `json:"dataset"`
	Params  map[string]any `json:"params,omitempty"`
}

// PlanResponse is the response for a dry-run/plan request.
type PlanResponse struct {
	Dataset    string     `json:"dataset"`
	Files      []PlanFile `json:"files"`
	TotalFiles int        `json:"totalFiles"`
	Cached     int        `json:"cached"`
	Missing    int        `json:"missing"`
	Warnings   []string   `json:"warnings,omitempty"`
	Result     any        `json:"result,omitempty"`
}

// PlanFile is one manifest entry of a plan.
type PlanFile struct {
	Path   string `json:"path"`
	URL    string `json:"url"`
	Cached bool   `json:"cached"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	DataDir            string `json:"dataDir"`
	Concurrency        int    `json:"connections"`
	MaxActive          int    `json:"maxActive"`
	MultipartThreshold string `json:"multipartThreshold"`
	Retries            int    `json:"retries"`
	BackoffInitial     string `json:"backoffInitial"`
	BackoffMax         string `json:"backoffMax"`
	Timeout            string `json:"timeout"`
	Username           string `json:"username,omitempty"`
	Password           string `json:"password,omitempty"`
	UserAgent          string `json:"userAgent,omitempty"`
	NoResume           bool   `json:"noResume"`
	Force              bool   `json:"force"`
	KeepArchives       bool   `json:"keepArchives"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

var errBadRequest = errors.New("bad request")

// validateFetch resolves the dataset and turns the request parameters into
// dataset.Params, rejecting parameters the dataset does not declare.
func validateFetch(req FetchRequest) (dataset.Descriptor, dataset.Params, error) {
	if strings.TrimSpace(req.Dataset) == "" {
		return dataset.Descriptor{}, nil, fmt.Errorf("%w: missing required field: dataset", errBadRequest)
	}
	d, ok := dataset.Lookup(req.Dataset)
	if !ok {
		return dataset.Descriptor{}, nil, fmt.Errorf("%w: %w: %q", errBadRequest, dataset.ErrUnknownDataset, req.Dataset)
	}
	params := make(dataset.Params, len(req.Params))
	for k, v := range req.Params {
		key := strings.ToLower(strings.TrimSpace(k))
		if !d.HasParam(key) {
			return d, nil, fmt.Errorf("%w: %s: unknown parameter %q", errBadRequest, d.Name, k)
		}
		s, err := paramValue(v)
		if err != nil {
			return d, nil, fmt.Errorf("%w: %s: parameter %q: %w", errBadRequest, d.Name, k, err)
		}
		params[key] = s
	}
	return d, params, nil
}

func paramValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool, float64:
		return fmt.Sprint(x), nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			s, err := paramValue(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value %v", v)
	}
}

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListDatasets lists registered datasets, optionally filtered by
// ?modality=.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	modality := r.URL.Query().Get("modality")
	items := []dataset.Descriptor{}
	for _, d := range dataset.List() {
		if modality == "" || string(d.Modality) == modality {
			items = append(items, d)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasets": items,
		"count":    len(items),
	})
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	d, ok := dataset.Lookup(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "Dataset not found", r.PathValue("name"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleStartFetch starts a new fetch job.
func (s *Server) handleStartFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	job, wasExisting, err := s.jobs.CreateJob(req)
	if err != nil {
		if errors.Is(err, errBadRequest) {
			writeError(w, http.StatusBadRequest, "Invalid fetch request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create job", err.Error())
		return
	}

	if wasExisting {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Fetch already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handlePlan returns what a fetch would download without downloading.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	d, params, err := validateFetch(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan request", err.Error())
		return
	}

	var mu sync.Mutex
	resp := PlanResponse{Dataset: d.Name, Files: []PlanFile{}}
	progress := func(ev fetcher.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Event {
		case "plan_item":
			cached := ev.Message == "cached"
			resp.Files = append(resp.Files, PlanFile{Path: ev.Path, URL: ev.URL, Cached: cached})
			if cached {
				resp.Cached++
			} else {
				resp.Missing++
			}
		case "warning":
			resp.Warnings = append(resp.Warnings, ev.Message)
		}
	}

	settings := s.settings()
	settings.DryRun = true
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	result, err := dataset.Run(ctx, d.Name, params, dataset.Options{
		DataDir:    s.config.DataDir,
		Settings:   settings,
		Progress:   progress,
		HTTPClient: s.config.HTTPClient,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to plan fetch", err.Error())
		return
	}

	mu.Lock()
	defer mu.Unlock()
	resp.TotalFiles = len(resp.Files)
	resp.Result = result
	writeJSON(w, http.StatusOK, resp)
}

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	if s.jobs.CancelJob(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
	} else {
		writeError(w, http.StatusNotFound, "Job not found or already completed", "")
	}
}

// handleGetSettings returns current settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg := s.settings()

	// Don't expose the password, just indicate if set
	password := ""
	if cfg.Password != "" {
		password = "********"
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		DataDir:            s.config.DataDir,
		Concurrency:        cfg.Concurrency,
		MaxActive:          cfg.MaxActiveDownloads,
		MultipartThreshold: cfg.MultipartThreshold,
		Retries:            cfg.Retries,
		BackoffInitial:     cfg.BackoffInitial,
		BackoffMax:         cfg.BackoffMax,
		Timeout:            cfg.Timeout,
		Username:           cfg.Username,
		Password:           password,
		UserAgent:          cfg.UserAgent,
		NoResume:           cfg.NoResume,
		Force:              cfg.Force,
		KeepArchives:       cfg.KeepArchives,
	})
}

// handleUpdateSettings updates settings for jobs started afterwards.
// Note: the data directory cannot be changed via the API.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Concurrency        *int    `json:"connections,omitempty"`
		MaxActive          *int    `json:"maxActive,omitempty"`
		MultipartThreshold *string `json:"multipartThreshold,omitempty"`
		Retries            *int    `json:"retries,omitempty"`
		Username           *string `json:"username,omitempty"`
		Password           *string `json:"password,omitempty"`
		UserAgent          *string `json:"userAgent,omitempty"`
		NoResume           *bool   `json:"noResume,omitempty"`
		Force              *bool   `json:"force,omitempty"`
		KeepArchives       *bool   `json:"keepArchives,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.MultipartThreshold != nil && *req.MultipartThreshold != "" {
		if _, err := fetcher.ParseSize(*req.MultipartThreshold, 0); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid multipartThreshold", err.Error())
			return
		}
	}

	s.mu.Lock()
	cfg := &s.config.Settings
	if req.Concurrency != nil && *req.Concurrency > 0 {
		cfg.Concurrency = *req.Concurrency
	}
	if req.MaxActive != nil && *req.MaxActive > 0 {
		cfg.MaxActiveDownloads = *req.MaxActive
	}
	if req.MultipartThreshold != nil && *req.MultipartThreshold != "" {
		cfg.MultipartThreshold = *req.MultipartThreshold
	}
	if req.Retries != nil && *req.Retries >= 0 {
		cfg.Retries = *req.Retries
	}
	if req.Username != nil {
		cfg.Username = *req.Username
	}
	if req.Password != nil {
		cfg.Password = *req.Password
	}
	if req.UserAgent != nil {
		cfg.UserAgent = *req.UserAgent
	}
	if req.NoResume != nil {
		cfg.NoResume = *req.NoResume
	}
	if req.Force != nil {
		cfg.Force = *req.Force
	}
	if req.KeepArchives != nil {
		cfg.KeepArchives = *req.KeepArchives
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Settings updated",
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
