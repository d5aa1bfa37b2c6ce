// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roshan-srin/nidata/internal/logging"
	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

// JobStatus represents the state of a fetch job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is one dataset fetch.
type Job struct {
	ID        string            `json:"id"`
	Dataset   string            `json:"dataset"`
	Params    dataset.Params    `json:"params,omitempty"`
	DataDir   string            `json:"dataDir,omitempty"`
	Status    JobStatus         `json:"status"`
	Progress  JobProgress       `json:"progress"`
	Warnings  []string          `json:"warnings,omitempty"`
	Result    any               `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
	EndedAt   *time.Time        `json:"endedAt,omitempty"`
	Files     []JobFileProgress `json:"files,omitempty"`

	key    string
	ctx    context.Context
	cancel context.CancelFunc
}

// JobProgress holds aggregate progress info.
type JobProgress struct {
	TotalTargets    int   `json:"totalTargets"`
	CachedTargets   int   `json:"cachedTargets"`
	ResolvedTargets int   `json:"resolvedTargets"`
	TotalBytes      int64 `json:"totalBytes"`
	DownloadedBytes int64 `json:"downloadedBytes"`
}

// JobFileProgress holds per-download progress. Path is the remote file name.
type JobFileProgress struct {
	Path       string `json:"path"`
	URL        string `json:"url,omitempty"`
	TotalBytes int64  `json:"totalBytes"`
	Downloaded int64  `json:"downloaded"`
	Status     string `json:"status"` // active, extracting, complete, skipped
}

func (j *Job) active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// snapshot copies the job so it can be encoded while the fetch goes on.
func (j *Job) snapshot() *Job {
	c := *j
	c.Files = append([]JobFileProgress(nil), j.Files...)
	c.Warnings = append([]string(nil), j.Warnings...)
	return &c
}

func (j *Job) file(path string) *JobFileProgress {
	for i := range j.Files {
		if j.Files[i].Path == path {
			return &j.Files[i]
		}
	}
	j.Files = append(j.Files, JobFileProgress{Path: path, Status: "active"})
	return &j.Files[len(j.Files)-1]
}

// jobKey identifies a fetch for deduplication: same dataset, same
// parameters.
func jobKey(name string, p dataset.Params) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(strings.ToLower(name))
	for _, k := range keys {
		b.WriteString("&" + k + "=" + p[k])
	}
	return b.String()
}

// JobManager manages fetch jobs.
type JobManager struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	srv        *Server
	listeners  []chan *Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
	wg         sync.WaitGroup
}

// NewJobManager creates a new job manager.
func NewJobManager(srv *Server, wsHub *WSHub) *JobManager {
	return &JobManager{
		jobs:  make(map[string]*Job),
		srv:   srv,
		wsHub: wsHub,
	}
}

// CreateJob creates a new fetch job.
// Returns the existing job if the same dataset and parameters are already
// queued or running.
func (m *JobManager) CreateJob(req FetchRequest) (*Job, bool, error) {
	d, params, err := validateFetch(req)
	if err != nil {
		return nil, false, err
	}
	key := jobKey(d.Name, params)

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.key == key && existing.active() {
			snap := existing.snapshot()
			m.mu.Unlock()
			return snap, true, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		Dataset:   d.Name,
		Params:    params,
		DataDir:   m.srv.config.DataDir, // server-controlled, not from the request
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
		key:       key,
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[job.ID] = job
	snap := job.snapshot()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runJob(job)

	return snap, false, nil
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns all jobs, oldest first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || !job.active() {
		m.mu.Unlock()
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	now := time.Now()
	job.EndedAt = &now
	snap := job.snapshot()
	m.mu.Unlock()

	m.notifyListeners(snap)
	return true
}

// CancelAll cancels every active job.
func (m *JobManager) CancelAll() {
	m.mu.RLock()
	var ids []string
	for id, job := range m.jobs {
		if job.active() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.CancelJob(id)
	}
}

// DeleteJob removes a job from the list.
func (m *JobManager) DeleteJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}
	if job.active() {
		job.cancel()
	}
	delete(m.jobs, id)
	return true
}

// Wait blocks until every started job has returned.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan *Job {
	ch := make(chan *Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan *Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *JobManager) notifyListeners(job *Job) {
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// slow listener
		}
	}
	m.listenerMu.RUnlock()

	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// apply folds a progress event into the job. Callers hold m.mu.
func (j *Job) apply(ev fetcher.ProgressEvent) {
	switch ev.Event {
	case "plan_item":
		j.Progress.TotalTargets++
		if ev.Message == "cached" {
			j.Progress.CachedTargets++
			j.Progress.ResolvedTargets++
		}
	case "file_start":
		f := j.file(ev.Path)
		f.URL = ev.URL
		f.Status = "active"
	case "file_progress":
		f := j.file(ev.Path)
		if ev.Total > 0 && f.TotalBytes == 0 {
			f.TotalBytes = ev.Total
			j.Progress.TotalBytes += ev.Total
		}
		f.Downloaded = ev.Downloaded
		j.sumDownloaded()
	case "file_done":
		f := j.file(ev.Path)
		if strings.HasPrefix(ev.Message, "skip") {
			f.Status = "skipped"
			break
		}
		if f.TotalBytes == 0 && ev.Total > 0 {
			j.Progress.TotalBytes += ev.Total
		}
		f.TotalBytes = ev.Total
		f.Downloaded = ev.Bytes
		f.Status = "complete"
		j.sumDownloaded()
	case "extract_start":
		j.file(ev.Path).Status = "extracting"
	case "extract_done":
		j.file(ev.Path).Status = "complete"
	case "target_done":
		j.Progress.ResolvedTargets++
	case "warning":
		j.Warnings = append(j.Warnings, ev.Message)
	}
}

func (j *Job) sumDownloaded() {
	var total int64
	for _, f := range j.Files {
		total += f.Downloaded
	}
	j.Progress.DownloadedBytes = total
}

// runJob executes the fetch job.
func (m *JobManager) runJob(job *Job) {
	defer m.wg.Done()
	log := m.srv.log.WithFields(logging.BaseFields("job", job.Dataset)).WithField("job", job.ID)

	m.mu.Lock()
	if job.Status != JobStatusQueued {
		m.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	snap := job.snapshot()
	m.mu.Unlock()
	m.notifyListeners(snap)

	m.srv.metrics.ActiveJobs.Inc()
	defer m.srv.metrics.ActiveJobs.Dec()
	log.Info("job started")

	// Must not hold the lock when calling notifyListeners.
	progress := func(ev fetcher.ProgressEvent) {
		logging.LogEvent(log, ev)
		m.srv.metrics.Observe(ev)

		m.mu.Lock()
		job.apply(ev)
		snap := job.snapshot()
		m.mu.Unlock()

		if ev.Event != "file_progress" && m.wsHub != nil {
			m.wsHub.BroadcastEvent(job.ID, ev)
		}
		m.notifyListeners(snap)
	}

	opts := dataset.Options{
		DataDir:    job.DataDir,
		Settings:   m.srv.settings(),
		Progress:   progress,
		HTTPClient: m.srv.config.HTTPClient,
	}
	result, err := dataset.Run(job.ctx, job.Dataset, job.Params, opts)

	m.mu.Lock()
	if job.EndedAt == nil {
		end := time.Now()
		job.EndedAt = &end
	}
	switch {
	case job.Status == JobStatusCancelled || errors.Is(job.ctx.Err(), context.Canceled):
		job.Status = JobStatusCancelled
	case err != nil:
		job.Status = JobStatusFailed
		job.Error = err.Error()
	default:
		job.Status = JobStatusCompleted
		job.Result = result
	}
	job.cancel()
	snap = job.snapshot()
	m.mu.Unlock()

	m.srv.metrics.Jobs.WithLabelValues(job.Dataset, string(snap.Status)).Inc()
	entry := log.WithField("status", snap.Status)
	if snap.Status == JobStatusFailed {
		entry.Error(snap.Error)
	} else {
		entry.Info("job finished")
	}
	m.notifyListeners(snap)
}
