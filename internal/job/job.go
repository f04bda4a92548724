// Package job provides the trim Job aggregate, its repository port and the
// TrimService use case that runs directory batches in the background.
// Job states follow a small state machine guarded by TransitionTo.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/wakeword-trim/internal/batch"
	"github.com/maauso/wakeword-trim/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job was accepted and is waiting to run.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates clips are being trimmed.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every clip was processed. Individual clips
	// may still have been skipped or failed.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the batch could not run at all.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by a client.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Job represents a batch trim job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Progress is the percentage of clips processed (0-100).
	Progress int
	// Error contains the reason the job failed, if it did.
	Error string

	// Threshold is the activity threshold used for every clip.
	Threshold float64
	// ClipDurationSec crops trimmed clips when > 0.
	ClipDurationSec float64
	// PushToS3 indicates whether trimmed clips are uploaded.
	PushToS3 bool

	// WorkDir is the job workspace; it is removed when the job is deleted.
	WorkDir string
	// InputDir holds the clips to trim.
	InputDir string
	// OutputDir receives the trimmed clips.
	OutputDir string

	// TotalClips is the number of clips found in InputDir.
	TotalClips int
	// Trimmed, Skipped and Failed count processed clips by outcome.
	Trimmed int
	Skipped int
	Failed  int
	// Files holds per-clip results in completion order.
	Files []batch.FileResult

	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Files:     make([]batch.FileResult, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	if status == StatusCompleted {
		j.Progress = 100
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
// The message is only recorded if the transition is allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetWorkspace records the job's workspace, input and output directories.
func (j *Job) SetWorkspace(workDir, inputDir, outputDir string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.WorkDir = workDir
	j.InputDir = inputDir
	j.OutputDir = outputDir
	j.UpdatedAt = time.Now()
}

// RecordFile appends a clip result and updates counts and progress.
func (j *Job) RecordFile(res batch.FileResult, done, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Files = append(j.Files, res)
	switch res.Outcome {
	case batch.OutcomeTrimmed:
		j.Trimmed++
	case batch.OutcomeSkipped:
		j.Skipped++
	default:
		j.Failed++
	}
	j.TotalClips = total
	if total > 0 {
		j.Progress = min(100, max(0, done*100/total))
	}
	j.UpdatedAt = time.Now()
}

// SetTotal records how many clips the job will process.
func (j *Job) SetTotal(total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.TotalClips = total
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	files := make([]batch.FileResult, len(j.Files))
	copy(files, j.Files)

	return &Job{
		ID:              j.ID,
		Status:          j.Status,
		Progress:        j.Progress,
		Error:           j.Error,
		Threshold:       j.Threshold,
		ClipDurationSec: j.ClipDurationSec,
		PushToS3:        j.PushToS3,
		WorkDir:         j.WorkDir,
		InputDir:        j.InputDir,
		OutputDir:       j.OutputDir,
		TotalClips:      j.TotalClips,
		Trimmed:         j.Trimmed,
		Skipped:         j.Skipped,
		Failed:          j.Failed,
		Files:           files,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
