package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// JobStatus represents the state of an analysis job.
type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusRasterizing  JobStatus = "rasterizing"
	StatusAnalyzing    JobStatus = "analyzing"
	StatusSynthesizing JobStatus = "synthesizing"
	StatusStoring      JobStatus = "storing"
	StatusDelivering   JobStatus = "delivering"
	StatusCompleted    JobStatus = "completed"
	StatusPartial      JobStatus = "partial"
	StatusCached       JobStatus = "cached"
	StatusFailed       JobStatus = "failed"
)

var phaseStatus = map[Phase]JobStatus{
	PhaseRasterizing:  StatusRasterizing,
	PhaseAnalyzing:    StatusAnalyzing,
	PhaseSynthesizing: StatusSynthesizing,
	PhaseStoring:      StatusStoring,
	PhaseDelivering:   StatusDelivering,
}

// Job tracks the state of a single document analysis submitted over the API.
type Job struct {
	mu sync.Mutex

	ID       string `json:"job_id"`
	Filename string `json:"filename"`
	Force    bool   `json:"force"`

	Status JobStatus `json:"status"`
	phase  string

	Progress Progress `json:"progress"`
	RecordID int64    `json:"record_id,omitempty"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	errors   []string
}

// Progress tracks page-level progress.
type Progress struct {
	TotalPages  int      `json:"total_pages"`
	PagesDone   int      `json:"pages_done"`
	PagesFailed int      `json:"pages_failed"`
	Errors      []string `json:"errors"`
}

// NewJob creates a queued job holding the uploaded bytes.
func NewJob(id, filename string, data []byte, force bool) *Job {
	now := time.Now()
	return &Job{
		ID:          id,
		Filename:    filename,
		Force:       force,
		Status:      StatusQueued,
		phase:       "queued",
		ContentHash: ContentHashHex(data),
		CreatedAt:   now,
		UpdatedAt:   now,
		fileData:    data,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes finished jobs idle for longer than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.terminalLocked() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) terminalLocked() bool {
	switch j.Status {
	case StatusCompleted, StatusPartial, StatusCached, StatusFailed:
		return true
	}
	return false
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetRecord links the job to its ledger record.
func (j *Job) SetRecord(id int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.RecordID = id
	j.UpdatedAt = time.Now()
}

// Phase implements Observer.
func (j *Job) Phase(p Phase) {
	j.SetStatus(phaseStatus[p], string(p))
}

// PagesTotal implements Observer.
func (j *Job) PagesTotal(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalPages = n
	j.UpdatedAt = time.Now()
}

// PageDone implements Observer.
func (j *Job) PageDone(index int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.PagesDone++
	if err != nil {
		j.Progress.PagesFailed++
		j.errors = append(j.errors, err.Error())
		j.Progress.Errors = j.errors
	}
	j.UpdatedAt = time.Now()
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// releaseFileData drops the upload once processing is over.
func (j *Job) releaseFileData() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = nil
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"job_id"`
	Filename  string    `json:"filename"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	Progress  Progress  `json:"progress"`
	RecordID  int64     `json:"record_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.errors))
	copy(errs, j.errors)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:        j.ID,
		Filename:  j.Filename,
		Status:    j.Status,
		Phase:     j.phase,
		Progress:  p,
		RecordID:  j.RecordID,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
