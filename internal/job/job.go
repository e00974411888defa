// Package job provides the Job aggregate for media composition requests and the
// service that runs them. A job moves through a small state machine while its
// inputs are probed, planned, rendered by the engine and optionally uploaded.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/mediacompose-api/internal/compose"
	"github.com/maauso/mediacompose-api/internal/job/id"
)

// Kind is the composition mode of a job.
type Kind string

const (
	// KindOverlay stacks layers on top of each other.
	KindOverlay Kind = "overlay"
	// KindAppend concatenates files end to end.
	KindAppend Kind = "append"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindOverlay || k == KindAppend
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a free worker slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is being probed, planned or rendered.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the output was produced.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates planning or rendering failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job context was cancelled.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the job context deadline expired.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is a single composition request and its outcome.
type Job struct {
	mu sync.RWMutex

	ID       string
	Kind     Kind
	Status   Status
	Progress int
	Error    string
	// Warnings lists inputs that were skipped, such as overlay layers that
	// could not be inspected.
	Warnings []string
	// Inputs are the resolved input paths in engine order.
	Inputs          []string
	FilterGraph     string
	DurationSeconds float64
	// OutputPath is the local rendered file.
	OutputPath string
	// OutputURL is set when the output was uploaded to S3.
	OutputURL string
	PushToS3  bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a new Job of the given kind with a generated ID in IN_QUEUE status.
func New(kind Kind) *Job {
	return NewWithID(id.Generate(), kind)
}

// NewWithID creates a new Job with the specified ID in IN_QUEUE status.
func NewWithID(jobID string, kind Kind) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Kind:      kind,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 100.
func (j *Job) Complete() error {
	if err := j.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	j.UpdateProgress(100)
	return nil
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT state.
func (j *Job) Timeout() error {
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage, clamped to 0-100.
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = min(max(progress, 0), 100)
	j.UpdatedAt = time.Now()
}

// SetPlan records what the engine is about to run.
func (j *Job) SetPlan(plan *compose.ExecutionPlan) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Inputs = plan.InputPaths()
	j.FilterGraph = plan.FilterGraph
	j.DurationSeconds = plan.DurationSeconds
	j.UpdatedAt = time.Now()
}

// AddWarning appends a non-fatal message.
func (j *Job) AddWarning(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Warnings = append(j.Warnings, msg)
	j.UpdatedAt = time.Now()
}

// SetOutput sets the rendered output path and optional S3 URL.
func (j *Job) SetOutput(path, url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
	j.OutputURL = url
	j.UpdatedAt = time.Now()
}

// ClearOutput clears the output path and URL after the file was removed.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = ""
	j.OutputURL = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return len(validTransitions[j.GetStatus()]) == 0
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:              j.ID,
		Kind:            j.Kind,
		Status:          j.Status,
		Progress:        j.Progress,
		Error:           j.Error,
		Warnings:        cloneStrings(j.Warnings),
		Inputs:          cloneStrings(j.Inputs),
		FilterGraph:     j.FilterGraph,
		DurationSeconds: j.DurationSeconds,
		OutputPath:      j.OutputPath,
		OutputURL:       j.OutputURL,
		PushToS3:        j.PushToS3,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
