package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/wakeword-trim/internal/audio"
	"github.com/maauso/wakeword-trim/internal/job"
	"github.com/maauso/wakeword-trim/internal/job/id"
	"github.com/maauso/wakeword-trim/internal/storage"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.TrimService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.TrimService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// decode reads and validates a JSON body, writing the error response on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// Trim handles POST /trim requests.
func (h *Handlers) Trim(w http.ResponseWriter, r *http.Request) {
	var req TrimRequest
	if !h.decode(w, r, &req) {
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_base64 is not valid base64", "VALIDATION_ERROR")
		return
	}

	out, res, err := h.service.TrimClip(r.Context(), job.TrimClipInput{
		Data:            data,
		Threshold:       req.Threshold,
		ClipDurationSec: req.ClipDurationSec,
	})
	if err != nil {
		status, code := trimErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to trim clip", slog.String("error", err.Error()))
			writeError(w, status, "failed to trim clip", code)
			return
		}
		h.logger.Warn("clip rejected",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		writeError(w, status, err.Error(), code)
		return
	}

	writeJSON(w, http.StatusOK, TrimResponse{
		AudioBase64:   base64.StdEncoding.EncodeToString(out),
		SampleRate:    res.SampleRate,
		StartIndex:    res.Boundaries.Start.Index,
		EndIndex:      res.Boundaries.End.Index,
		InputSamples:  res.InputSamples,
		OutputSamples: res.OutputSamples,
	})
}

func trimErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, job.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, audio.ErrMalformedAudio):
		return http.StatusBadRequest, "MALFORMED_AUDIO"
	case errors.Is(err, audio.ErrSampleRateMismatch):
		return http.StatusUnprocessableEntity, "SAMPLE_RATE_MISMATCH"
	case errors.Is(err, audio.ErrNoActiveSegment):
		return http.StatusUnprocessableEntity, "NO_ACTIVE_SEGMENT"
	default:
		return http.StatusInternalServerError, "TRIM_FAILED"
	}
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := job.CreateInput{
		InputDir:        req.InputDir,
		Threshold:       req.Threshold,
		ClipDurationSec: req.ClipDurationSec,
		PushToS3:        req.PushToS3,
	}
	for _, c := range req.Clips {
		data, err := base64.StdEncoding.DecodeString(c.AudioBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "clip "+c.Name+" is not valid base64", "VALIDATION_ERROR")
			return
		}
		input.Clips = append(input.Clips, job.ClipInput{Name: c.Name, Data: data})
	}

	// Create job first (synchronously)
	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		case errors.Is(err, job.ErrInputDirNotAllowed):
			writeError(w, http.StatusForbidden, err.Error(), "INPUT_DIR_NOT_ALLOWED")
		case errors.Is(err, storage.ErrS3NotConfigured):
			writeError(w, http.StatusBadRequest, "push_to_s3 requires S3 to be configured", "S3_NOT_CONFIGURED")
		default:
			h.logger.Error("failed to create job",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		}
		return
	}

	// Use context.WithoutCancel to prevent cancellation when the request ends
	if h.enableAsyncProcess {
		h.service.ProcessAsync(context.WithoutCancel(r.Context()), createdJob.ID)
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.Int("clips", len(req.Clips)),
		slog.String("input_dir", req.InputDir),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// pathJobID extracts and checks the {id} path value, writing the error response on failure.
func pathJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return "", false
	}
	if !id.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return "", false
	}
	return jobID, true
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(foundJob, true))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteJob handles DELETE /jobs/{id} requests.
// A queued or running job is cancelled and returned; a finished job is
// removed together with its workspace.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	cancelled, err := h.service.CancelJob(r.Context(), jobID)
	if err == nil {
		writeJSON(w, http.StatusOK, toJobResponse(cancelled, true))
		return
	}
	if errors.Is(err, job.ErrJobTerminal) {
		err = h.service.DeleteJob(r.Context(), jobID)
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "job is changing state, retry", "JOB_BUSY")
	default:
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
	}
}

func toJobResponse(j *job.Job, withFiles bool) JobResponse {
	resp := JobResponse{
		ID:              j.ID,
		Status:          string(j.Status),
		Progress:        j.Progress,
		Error:           j.Error,
		Threshold:       j.Threshold,
		ClipDurationSec: j.ClipDurationSec,
		PushToS3:        j.PushToS3,
		TotalClips:      j.TotalClips,
		Trimmed:         j.Trimmed,
		Skipped:         j.Skipped,
		Failed:          j.Failed,
		CreatedAt:       j.CreatedAt,
	}
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		resp.StartedAt = &t
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}

	if withFiles {
		resp.Files = make([]FileResponse, 0, len(j.Files))
		for _, f := range j.Files {
			resp.Files = append(resp.Files, FileResponse{
				Name:          f.Name,
				Outcome:       string(f.Outcome),
				Reason:        string(f.Reason),
				Error:         f.Error,
				OutputPath:    f.OutputPath,
				URL:           f.URL,
				SampleRate:    f.SampleRate,
				StartIndex:    boundaryIndex(f.Boundaries.Start),
				EndIndex:      boundaryIndex(f.Boundaries.End),
				InputSamples:  f.InputSamples,
				OutputSamples: f.OutputSamples,
			})
		}
		sort.Slice(resp.Files, func(a, b int) bool {
			return resp.Files[a].Name < resp.Files[b].Name
		})
	}
	return resp
}

// boundaryIndex returns nil for a boundary that was not found, so it is never
// reported as index 0.
func boundaryIndex(b audio.Boundary) *int {
	if !b.Found {
		return nil
	}
	i := b.Index
	return &i
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
