package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maauso/wakeword-trim/internal/audio"
	"github.com/maauso/wakeword-trim/internal/batch"
	"github.com/maauso/wakeword-trim/internal/metrics"
	"github.com/maauso/wakeword-trim/internal/storage"
)

// Static errors for the trim service.
var (
	// ErrInvalidInput is returned when a job request names no clips, or both
	// clips and an input directory, or duplicate clip names.
	ErrInvalidInput = errors.New("job: invalid input")
	// ErrInputDirNotAllowed is returned when input_dir is disabled or points
	// outside the configured input root.
	ErrInputDirNotAllowed = errors.New("job: input directory not allowed")
	// ErrJobTerminal is returned when cancelling a job that already finished.
	ErrJobTerminal = errors.New("job: job already finished")
)

// ClipInput is one uploaded clip.
type ClipInput struct {
	// Name is the clip file name; it is kept for the trimmed output.
	Name string
	// Data is the raw WAV content.
	Data []byte
}

// CreateInput contains the parameters of a batch trim job.
// Exactly one of Clips and InputDir must be set.
type CreateInput struct {
	Clips    []ClipInput
	InputDir string
	// Threshold overrides the default activity threshold when non-nil.
	Threshold *float64
	// ClipDurationSec overrides the default crop duration when non-nil.
	ClipDurationSec *float64
	// PushToS3 uploads every trimmed clip.
	PushToS3 bool
}

// TrimClipInput contains the parameters of a synchronous single-clip trim.
// Nil overrides use the service defaults.
type TrimClipInput struct {
	Data            []byte
	Threshold       *float64
	ClipDurationSec *float64
}

// TrimService runs trim jobs and single-clip trims.
type TrimService struct {
	repo     Repository
	trimmer  audio.Trimmer
	store    storage.Storage
	logger   *slog.Logger
	metrics  *metrics.Metrics
	defaults audio.TrimOpts
	workers  int

	// inputRoot restricts input_dir jobs; empty disables them.
	inputRoot string
	// s3Enabled reports whether store can upload.
	s3Enabled bool

	mu     sync.Mutex
	active map[string]*activeJob
	wg     sync.WaitGroup
}

type activeJob struct {
	job    *Job
	cancel context.CancelFunc
}

// ServiceOption configures a TrimService.
type ServiceOption func(*TrimService)

// WithDefaults sets the trim options used when a request does not override them.
func WithDefaults(opts audio.TrimOpts) ServiceOption {
	return func(s *TrimService) {
		s.defaults = opts
	}
}

// WithMaxConcurrentFiles limits how many clips of one job are trimmed in parallel.
func WithMaxConcurrentFiles(n int) ServiceOption {
	return func(s *TrimService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *TrimService) {
		s.metrics = m
	}
}

// WithInputRoot allows jobs to read clips from directories under root.
func WithInputRoot(root string) ServiceOption {
	return func(s *TrimService) {
		if root != "" {
			s.inputRoot = filepath.Clean(root)
		}
	}
}

// WithS3 enables push_to_s3 on jobs. The storage must support uploads.
func WithS3(enabled bool) ServiceOption {
	return func(s *TrimService) {
		s.s3Enabled = enabled
	}
}

// NewTrimService creates a new TrimService.
func NewTrimService(repo Repository, trimmer audio.Trimmer, store storage.Storage, logger *slog.Logger, opts ...ServiceOption) *TrimService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TrimService{
		repo:     repo,
		trimmer:  trimmer,
		store:    store,
		logger:   logger,
		defaults: audio.DefaultTrimOpts(),
		workers:  batch.DefaultWorkers,
		active:   make(map[string]*activeJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Defaults returns the trim options applied when a request does not override them.
func (s *TrimService) Defaults() audio.TrimOpts {
	return s.defaults
}

func (s *TrimService) trimOpts(threshold, clipDurationSec *float64) audio.TrimOpts {
	opts := s.defaults
	if threshold != nil {
		opts.Threshold = *threshold
	}
	if clipDurationSec != nil {
		opts.ClipDurationSec = *clipDurationSec
	}
	return opts
}

// TrimClip trims a single in-memory clip and returns the encoded result.
func (s *TrimService) TrimClip(ctx context.Context, in TrimClipInput) ([]byte, audio.TrimResult, error) {
	if err := validateOverrides(in.Threshold, in.ClipDurationSec); err != nil {
		return nil, audio.TrimResult{}, err
	}
	start := time.Now()
	out, res, err := s.trimmer.TrimBytes(ctx, in.Data, s.trimOpts(in.Threshold, in.ClipDurationSec))

	outcome, reason := batch.Classify(err)
	var outSeconds float64
	if err == nil && res.SampleRate > 0 {
		outSeconds = float64(res.OutputSamples) / float64(res.SampleRate)
	}
	s.metrics.RecordClip(string(outcome), string(reason), time.Since(start), outSeconds)

	return out, res, err
}

// CreateJob validates input, prepares the job workspace and persists the job
// in IN_QUEUE status. Uploaded clips are written to the workspace before
// the job is returned.
func (s *TrimService) CreateJob(ctx context.Context, in CreateInput) (*Job, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	job := New()
	opts := s.trimOpts(in.Threshold, in.ClipDurationSec)
	job.Threshold = opts.Threshold
	job.ClipDurationSec = opts.ClipDurationSec
	job.PushToS3 = in.PushToS3

	workDir, err := s.store.Workspace(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("create job workspace: %w", err)
	}
	outputDir := filepath.Join(workDir, "output")

	inputDir := filepath.Join(workDir, "input")
	if in.InputDir != "" {
		inputDir, err = s.resolveInputDir(in.InputDir)
		if err != nil {
			_ = s.store.Cleanup(context.WithoutCancel(ctx), []string{workDir})
			return nil, err
		}
	} else if err := s.saveClips(ctx, inputDir, in.Clips); err != nil {
		_ = s.store.Cleanup(context.WithoutCancel(ctx), []string{workDir})
		return nil, err
	}
	job.SetWorkspace(workDir, inputDir, outputDir)

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Int("clips", len(in.Clips)),
		slog.String("input_dir", inputDir),
		slog.Float64("threshold", job.Threshold),
		slog.Bool("push_to_s3", job.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		_ = s.store.Cleanup(context.WithoutCancel(ctx), []string{workDir})
		return nil, err
	}

	return job, nil
}

func (s *TrimService) validate(in CreateInput) error {
	switch {
	case len(in.Clips) == 0 && in.InputDir == "":
		return fmt.Errorf("%w: either clips or input_dir is required", ErrInvalidInput)
	case len(in.Clips) > 0 && in.InputDir != "":
		return fmt.Errorf("%w: clips and input_dir are mutually exclusive", ErrInvalidInput)
	case in.PushToS3 && !s.s3Enabled:
		return storage.ErrS3NotConfigured
	}
	if err := validateOverrides(in.Threshold, in.ClipDurationSec); err != nil {
		return err
	}

	seen := make(map[string]bool, len(in.Clips))
	for _, c := range in.Clips {
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate clip name %q", ErrInvalidInput, c.Name)
		}
		seen[c.Name] = true
		if !strings.EqualFold(filepath.Ext(c.Name), ".wav") {
			return fmt.Errorf("%w: clip name %q must end in .wav", ErrInvalidInput, c.Name)
		}
	}
	return nil
}

func validateOverrides(threshold, clipDurationSec *float64) error {
	if threshold != nil && *threshold < 0 {
		return fmt.Errorf("%w: threshold must not be negative", ErrInvalidInput)
	}
	if clipDurationSec != nil && *clipDurationSec < 0 {
		return fmt.Errorf("%w: clip duration must not be negative", ErrInvalidInput)
	}
	return nil
}

func (s *TrimService) saveClips(ctx context.Context, dir string, clips []ClipInput) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create input directory: %w", err)
	}
	for _, c := range clips {
		if _, err := s.store.Save(ctx, dir, c.Name, bytes.NewReader(c.Data)); err != nil {
			if errors.Is(err, storage.ErrInvalidName) {
				return fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			return fmt.Errorf("save clip %s: %w", c.Name, err)
		}
	}
	return nil
}

func (s *TrimService) resolveInputDir(dir string) (string, error) {
	if s.inputRoot == "" {
		return "", fmt.Errorf("%w: input_dir is disabled", ErrInputDirNotAllowed)
	}

	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.inputRoot, dir)
	}
	dir = filepath.Clean(dir)

	rel, err := filepath.Rel(s.inputRoot, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInputDirNotAllowed, dir, s.inputRoot)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidInput, dir)
	}
	return dir, nil
}

// GetJob retrieves a job by ID.
func (s *TrimService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all known jobs, newest first.
func (s *TrimService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// ProcessAsync runs ProcessExistingJob in a background goroutine tracked by
// Shutdown. ctx should be detached from any request.
func (s *TrimService) ProcessAsync(ctx context.Context, jobID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.ProcessExistingJob(ctx, jobID); err != nil {
			s.logger.Error("background processing failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// ProcessExistingJob trims every clip of a job created by CreateJob.
//
// The job moves to RUNNING, then COMPLETED once all clips were processed,
// even if some were skipped or failed. It moves to FAILED when the batch
// cannot run at all. A job cancelled while running keeps its CANCELLED status
// and the results gathered so far.
func (s *TrimService) ProcessExistingJob(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, err := s.begin(ctx, jobID, cancel)
	if err != nil {
		return err
	}
	defer s.finish(jobID)

	s.metrics.JobStarted()
	logger := s.logger.With(slog.String("job_id", jobID))
	persist := func() {
		if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
			logger.Error("failed to save job", slog.String("error", err.Error()))
		}
	}

	procOpts := []batch.Option{
		batch.WithWorkers(s.workers),
		batch.WithLogger(logger),
		batch.WithMetrics(s.metrics),
		batch.WithProgress(func(done, total int, res batch.FileResult) {
			job.RecordFile(res, done, total)
			persist()
		}),
	}
	if job.PushToS3 {
		procOpts = append(procOpts, batch.WithPublisher(&storagePublisher{store: s.store, prefix: jobID}))
	}

	snapshot := job.Clone()
	opts := s.trimOpts(&snapshot.Threshold, &snapshot.ClipDurationSec)

	names, err := batch.ListClips(snapshot.InputDir)
	if err == nil {
		job.SetTotal(len(names))
		persist()
		_, err = batch.NewProcessor(s.trimmer, procOpts...).Run(ctx, snapshot.InputDir, snapshot.OutputDir, opts)
	}

	switch {
	case job.GetStatus() == StatusCancelled:
		logger.Info("job cancelled")
	case errors.Is(err, context.Canceled):
		_ = job.Cancel()
		logger.Info("job interrupted")
	case err != nil:
		_ = job.Fail(err.Error())
		logger.Error("job failed", slog.String("error", err.Error()))
	default:
		_ = job.Complete()
		done := job.Clone()
		logger.Info("job completed",
			slog.Int("trimmed", done.Trimmed),
			slog.Int("skipped", done.Skipped),
			slog.Int("failed", done.Failed),
		)
	}
	persist()
	s.metrics.JobFinished(string(job.GetStatus()))

	return nil
}

// begin moves an IN_QUEUE job to RUNNING and registers it as active.
func (s *TrimService) begin(ctx context.Context, jobID string, cancel context.CancelFunc) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[jobID]; ok {
		return nil, fmt.Errorf("start job %s: %w", jobID, ErrInvalidTransition)
	}

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("start job %s: %w", jobID, err)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}

	s.active[jobID] = &activeJob{job: job, cancel: cancel}
	return job, nil
}

func (s *TrimService) finish(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, jobID)
}

// CancelJob cancels a queued or running job.
// Returns ErrJobTerminal if the job already finished.
func (s *TrimService) CancelJob(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if a, ok := s.active[jobID]; ok {
		job = a.job
	}

	if err := job.Cancel(); err != nil {
		if job.IsTerminal() {
			return nil, ErrJobTerminal
		}
		return nil, err
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	if a, ok := s.active[jobID]; ok {
		a.cancel()
	}

	s.logger.Info("job cancelled", slog.String("job_id", jobID))
	return job.Clone(), nil
}

// DeleteJob removes a finished job and its workspace.
// Jobs that are still queued or running must be cancelled first.
func (s *TrimService) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if _, ok := s.active[jobID]; ok || !job.IsTerminal() {
		return fmt.Errorf("delete job %s: %w", jobID, ErrInvalidTransition)
	}

	if job.WorkDir != "" {
		if err := s.store.Cleanup(ctx, []string{job.WorkDir}); err != nil {
			s.logger.Warn("failed to remove job workspace",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.repo.Delete(ctx, jobID); err != nil {
		return err
	}

	s.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

// Shutdown cancels running jobs and waits for background processing to stop
// or for ctx to expire.
func (s *TrimService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, a := range s.active {
		s.logger.Info("cancelling job for shutdown", slog.String("job_id", id))
		a.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

// storagePublisher uploads trimmed clips under a per-job key prefix.
type storagePublisher struct {
	store  storage.Storage
	prefix string
}

func (p *storagePublisher) Publish(ctx context.Context, path string) (string, error) {
	f, err := p.store.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	return p.store.Upload(ctx, p.prefix+"/"+filepath.Base(path), f)
}

var _ batch.Publisher = (*storagePublisher)(nil)
