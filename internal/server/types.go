// Package server provides the HTTP server for the wake-word trimming API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// TrimRequest is the HTTP request body for trimming a single clip.
// Omitted (null) overrides fall back to the server configuration; an explicit
// 0 is applied as given.
type TrimRequest struct {
	// AudioBase64 is the base64-encoded WAV clip.
	AudioBase64 string `json:"audio_base64" validate:"required,base64"`
	// Threshold overrides the configured activity threshold.
	Threshold *float64 `json:"threshold,omitempty" validate:"omitempty,min=0,max=32768"`
	// ClipDurationSec overrides the configured crop duration; 0 keeps the
	// full active span.
	ClipDurationSec *float64 `json:"clip_duration_sec,omitempty" validate:"omitempty,min=0"`
}

// TrimResponse is the HTTP response for a trimmed clip.
type TrimResponse struct {
	// AudioBase64 is the trimmed clip as base64-encoded mono 16-bit WAV.
	AudioBase64   string `json:"audio_base64"`
	SampleRate    int    `json:"sample_rate"`
	StartIndex    int    `json:"start_index"`
	EndIndex      int    `json:"end_index"`
	InputSamples  int    `json:"input_samples"`
	OutputSamples int    `json:"output_samples"`
}

// ClipRequest is one uploaded clip of a batch job.
type ClipRequest struct {
	// Name is the clip file name. It must end in .wav.
	Name string `json:"name" validate:"required,max=255"`
	// AudioBase64 is the base64-encoded WAV clip.
	AudioBase64 string `json:"audio_base64" validate:"required,base64"`
}

// CreateJobRequest is the HTTP request body for creating a batch trim job.
// Exactly one of Clips and InputDir must be set.
type CreateJobRequest struct {
	// Clips are uploaded clips to trim.
	Clips []ClipRequest `json:"clips" validate:"required_without=InputDir,dive"`
	// InputDir is a server-side directory of clips, relative to the input root.
	InputDir string `json:"input_dir" validate:"required_without=Clips"`
	// Threshold overrides the configured activity threshold when set.
	Threshold *float64 `json:"threshold,omitempty" validate:"omitempty,min=0,max=32768"`
	// ClipDurationSec overrides the configured crop duration when set.
	ClipDurationSec *float64 `json:"clip_duration_sec,omitempty" validate:"omitempty,min=0"`
	// PushToS3 indicates whether to upload trimmed clips to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// FileResponse describes the result for one clip of a job.
// StartIndex and EndIndex are omitted when the boundary was not found.
type FileResponse struct {
	Name          string `json:"name"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
	OutputPath    string `json:"output_path,omitempty"`
	URL           string `json:"url,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	StartIndex    *int   `json:"start_index,omitempty"`
	EndIndex      *int   `json:"end_index,omitempty"`
	InputSamples  int    `json:"input_samples"`
	OutputSamples int    `json:"output_samples"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of clips processed (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`

	Threshold       float64 `json:"threshold"`
	ClipDurationSec float64 `json:"clip_duration_sec"`
	PushToS3        bool    `json:"push_to_s3"`

	TotalClips int `json:"total_clips"`
	Trimmed    int `json:"trimmed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`

	// Files lists per-clip results sorted by name. Omitted in job listings.
	Files []FileResponse `json:"files,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
