// Package async runs corpus indexing as a cancellable background job with
// progress reporting.
package async

import (
	"sync"
	"time"
)

// JobStatus represents the state of an indexing job.
type JobStatus string

const (
	// StatusIdle means no job has been started.
	StatusIdle JobStatus = "idle"
	// StatusRunning indicates indexing is in progress.
	StatusRunning JobStatus = "running"
	// StatusCompleted indicates the run finished.
	StatusCompleted JobStatus = "completed"
	// StatusCancelled indicates the run was stopped between documents.
	StatusCancelled JobStatus = "cancelled"
	// StatusFailed indicates the run failed with an error.
	StatusFailed JobStatus = "failed"
)

// Snapshot is an immutable copy of a job's progress.
type Snapshot struct {
	JobID          string  `json:"job_id,omitempty"`
	Status         string  `json:"status"`
	Force          bool    `json:"force"`
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	Document       string  `json:"document,omitempty"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`

	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Chunks  int `json:"chunks"`
	Pruned  int `json:"pruned"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of one job.
type Progress struct {
	mu sync.RWMutex

	jobID    string
	force    bool
	status   JobStatus
	current  int
	total    int
	document string
	start    time.Time
	end      time.Time

	indexed, skipped, failed, chunks, pruned int

	errorMessage string
}

// NewProgress creates a tracker for a running job.
func NewProgress(jobID string, force bool) *Progress {
	return &Progress{
		jobID:  jobID,
		force:  force,
		status: StatusRunning,
		start:  time.Now(),
	}
}

// Update records that document current of total is being processed.
func (p *Progress) Update(current, total int, document string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	p.total = total
	p.document = document
}

// Complete records the final counters of a run.
func (p *Progress) Complete(status JobStatus, indexed, skipped, failed, chunks, pruned int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = status
	p.indexed, p.skipped, p.failed, p.chunks, p.pruned = indexed, skipped, failed, chunks, pruned
	p.document = ""
	p.end = time.Now()
}

// SetError marks the job as failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusFailed
	p.errorMessage = message
	p.document = ""
	p.end = time.Now()
}

// Status returns the current job status.
func (p *Progress) Status() JobStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Snapshot returns an immutable copy of the current progress state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.total > 0 {
		pct = float64(p.current) / float64(p.total) * 100.0
	}
	if p.status == StatusCompleted {
		pct = 100
	}

	end := p.end
	if end.IsZero() {
		end = time.Now()
	}

	return Snapshot{
		JobID:          p.jobID,
		Status:         string(p.status),
		Force:          p.force,
		Current:        p.current,
		Total:          p.total,
		Document:       p.document,
		ProgressPct:    pct,
		ElapsedSeconds: int(end.Sub(p.start).Seconds()),
		Indexed:        p.indexed,
		Skipped:        p.skipped,
		Failed:         p.failed,
		Chunks:         p.chunks,
		Pruned:         p.pruned,
		ErrorMessage:   p.errorMessage,
	}
}
