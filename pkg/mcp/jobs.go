package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/site-downloader/pkg/models"
)

// JobStatus represents the current state of a download job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether a job with this status may still change
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job represents a background download. Values handed out by JobManager are snapshots.
type Job struct {
	ID           string              `json:"job_id"`
	URL          string              `json:"url"`
	Status       JobStatus           `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  time.Time           `json:"completed_at,omitempty"`
	Result       *models.CrawlResult `json:"result,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`

	key    string // Normalized URL used for de-duplication
	seq    int64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// JobManager manages background download jobs
type JobManager struct {
	jobs  map[string]*Job
	mu    sync.RWMutex
	byKey map[string]string // URL key -> jobID for active jobs
	seq   int64
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:  make(map[string]*Job),
		byKey: make(map[string]string),
	}
}

// CreateJob registers a job for rawURL. If a job for the same key is still active it is
// returned instead and created is false.
func (m *JobManager) CreateJob(rawURL, key string) (job Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingJobID, exists := m.byKey[key]; exists {
		if existing := m.jobs[existingJobID]; existing != nil && existing.Status.IsActive() {
			return *existing, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.seq++
	j := &Job{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		key:       key,
		seq:       m.seq,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.jobs[j.ID] = j
	m.byKey[key] = j.ID
	return *j, true
}

// GetJob retrieves a snapshot of a job by ID
func (m *JobManager) GetJob(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// IsRunning checks if a job is active for a URL key
func (m *JobManager) IsRunning(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.byKey[key]; exists {
		j := m.jobs[jobID]
		return j != nil && j.Status.IsActive()
	}
	return false
}

// MarkRunning moves a pending job to running
func (m *JobManager) MarkRunning(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok && j.Status == JobStatusPending {
		j.Status = JobStatusRunning
	}
}

// Finish records the crawl result. A cancelled job keeps its status but still gets the result.
func (m *JobManager) Finish(jobID string, result models.CrawlResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return
	}
	j.Result = &result
	if j.Status.IsActive() {
		if result.Succeeded() {
			j.Status = JobStatusCompleted
		} else {
			j.Status = JobStatusFailed
			j.ErrorMessage = result.Message
		}
		j.CompletedAt = time.Now()
		m.release(j)
	}
	j.cancel()
	close(j.done)
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, exists := m.jobs[jobID]; exists && j.Status.IsActive() {
		j.cancel()
		j.Status = JobStatusCancelled
		j.CompletedAt = time.Now()
		m.release(j)
		return true
	}
	return false
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.Status.IsActive() {
			j.cancel()
			j.Status = JobStatusCancelled
			j.CompletedAt = time.Now()
		}
	}
	m.byKey = make(map[string]string)
}

func (m *JobManager) release(j *Job) {
	if m.byKey[j.key] == j.ID {
		delete(m.byKey, j.key)
	}
}

// ListJobs returns snapshots of all jobs, newest first
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, *j)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].seq > jobs[b].seq })
	return jobs
}

// GetContext returns the context a job's crawl runs under
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if j, exists := m.jobs[jobID]; exists {
		return j.ctx
	}
	return context.Background()
}

// Wait blocks until the job's crawl has returned or ctx ends
func (m *JobManager) Wait(ctx context.Context, jobID string) (Job, error) {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return Job{}, context.Canceled
	}
	select {
	case <-j.done:
		got, _ := m.GetJob(jobID)
		return got, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}
