// Package registry keeps job records in memory. It is the only structure
// mutated concurrently across jobs: the pipeline is the single writer per job
// id, while any number of pollers read through Get.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

// Registry is a concurrency-safe store of job records. Records are never
// deleted; callers can query a terminal record indefinitely.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{jobs: make(map[string]*domain.Job)}
}

// Create registers a new job in the queued state and returns a copy of it.
func (r *Registry) Create(req domain.StoryRequest) domain.Job {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobStatusQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	return *job
}

// Get returns a copy of the job record so pollers never share the mutable
// entry with the writer.
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.RUnlock()
		return domain.Job{}, domain.ErrJobNotFound
	}
	snapshot := *job
	r.mu.RUnlock()
	return snapshot, nil
}

// MarkRunning moves a queued job to running.
func (r *Registry) MarkRunning(id string) error {
	return r.transition(id, domain.JobStatusRunning, func(*domain.Job) {})
}

// MarkSucceeded records the artifact reference and size and moves the job to
// its succeeded terminal state.
func (r *Registry) MarkSucceeded(id, artifactRef string, sizeBytes int64) error {
	return r.transition(id, domain.JobStatusSucceeded, func(job *domain.Job) {
		job.ArtifactRef = artifactRef
		job.ArtifactSize = sizeBytes
	})
}

// MarkFailed records the failure message and moves the job to its failed
// terminal state.
func (r *Registry) MarkFailed(id, message string) error {
	return r.transition(id, domain.JobStatusFailed, func(job *domain.Job) {
		job.ErrorMessage = message
	})
}

// transition applies a status change under the write lock. Illegal transitions
// are rejected before apply runs, so a rejected call leaves the record
// untouched and pollers always observe monotonic progress.
func (r *Registry) transition(id string, next domain.JobStatus, apply func(*domain.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, next)
	}
	apply(job)
	job.Status = next
	job.UpdatedAt = time.Now().UTC()
	return nil
}
