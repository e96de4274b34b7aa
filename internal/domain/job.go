package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Transitions are one-directional: queued -> running -> succeeded|failed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusSucceeded || next == JobStatusFailed
	default:
		return false
	}
}

// Job tracks one end-to-end video generation request through a terminal
// status. The request is immutable after creation; ArtifactRef is set exactly
// once on success and ErrorMessage exactly once on failure, never both.
type Job struct {
	ID           string
	Status       JobStatus
	Request      StoryRequest
	ArtifactRef  string
	ArtifactSize int64
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
