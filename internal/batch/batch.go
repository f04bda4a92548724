// Package batch trims every WAV clip in a directory with a bounded worker pool.
//
// Per-clip problems never abort a batch: clips at the wrong sample rate or
// without an active segment are skipped, undecodable or unreadable clips are
// marked failed, and processing continues with the next clip.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/wakeword-trim/internal/audio"
	"github.com/maauso/wakeword-trim/internal/metrics"
)

// OutputPrefix is prepended to a clip's file name to form its output name.
const OutputPrefix = "trimmed_"

// DefaultWorkers is the number of clips trimmed in parallel by default.
const DefaultWorkers = 4

// Outcome is the result class of one clip.
type Outcome string

const (
	// OutcomeTrimmed means a trimmed clip was written.
	OutcomeTrimmed Outcome = "trimmed"
	// OutcomeSkipped means the clip was valid but produced no output.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means the clip could not be read, decoded or published.
	OutcomeFailed Outcome = "failed"
)

// Reason explains a skipped or failed outcome.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonSampleRateMismatch Reason = "sample_rate_mismatch"
	ReasonNoActiveSegment    Reason = "no_active_segment"
	ReasonMalformedAudio     Reason = "malformed_audio"
	ReasonIOError            Reason = "io_error"
	ReasonPublishError       Reason = "publish_error"
	ReasonCancelled          Reason = "cancelled"
)

// FileResult describes what happened to a single clip.
type FileResult struct {
	Name          string
	InputPath     string
	OutputPath    string
	URL           string
	Outcome       Outcome
	Reason        Reason
	Error         string
	SampleRate    int
	Boundaries    audio.Boundaries
	InputSamples  int
	OutputSamples int
	Elapsed       time.Duration
}

// Report summarizes a batch run. Files are listed in input name order and
// only include clips that were processed before the run ended.
type Report struct {
	InputDir  string
	OutputDir string
	Files     []FileResult
	Trimmed   int
	Skipped   int
	Failed    int
	Elapsed   time.Duration
}

// Total returns the number of processed clips.
func (r *Report) Total() int {
	return r.Trimmed + r.Skipped + r.Failed
}

// Publisher uploads a trimmed clip and returns its public URL.
type Publisher interface {
	Publish(ctx context.Context, path string) (url string, err error)
}

// ProgressFunc is called after each clip with the number of clips done so far.
// Calls are serialized.
type ProgressFunc func(done, total int, res FileResult)

// Processor runs batches of clips through a Trimmer.
type Processor struct {
	trimmer   audio.Trimmer
	workers   int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher Publisher
	progress  ProgressFunc
}

// Option configures a Processor.
type Option func(*Processor)

// WithWorkers sets the maximum number of clips trimmed in parallel.
// Values < 1 are ignored.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger for per-clip and summary lines.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithPublisher uploads each trimmed clip after it is written.
func WithPublisher(pub Publisher) Option {
	return func(p *Processor) {
		p.publisher = pub
	}
}

// WithProgress registers a callback invoked after each clip.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Processor) {
		p.progress = fn
	}
}

// NewProcessor creates a Processor using trimmer for the per-clip work.
func NewProcessor(trimmer audio.Trimmer, opts ...Option) *Processor {
	p := &Processor{
		trimmer: trimmer,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ListClips returns the names of the regular .wav files in dir, sorted by name.
func ListClips(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// OutputName returns the output file name for a clip.
func OutputName(name string) string {
	return OutputPrefix + name
}

// Classify maps a trimming error to an outcome and reason.
func Classify(err error) (Outcome, Reason) {
	switch {
	case err == nil:
		return OutcomeTrimmed, ReasonNone
	case errors.Is(err, audio.ErrSampleRateMismatch):
		return OutcomeSkipped, ReasonSampleRateMismatch
	case errors.Is(err, audio.ErrNoActiveSegment):
		return OutcomeSkipped, ReasonNoActiveSegment
	case errors.Is(err, audio.ErrMalformedAudio):
		return OutcomeFailed, ReasonMalformedAudio
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeFailed, ReasonCancelled
	default:
		return OutcomeFailed, ReasonIOError
	}
}

// Run trims every clip in inputDir into outputDir.
//
// A missing or unreadable inputDir, or an outputDir that cannot be created,
// is returned as an error before any clip is touched. Cancelling ctx stops
// scheduling new clips; the partial report is returned along with ctx.Err().
func (p *Processor) Run(ctx context.Context, inputDir, outputDir string, opts audio.TrimOpts) (*Report, error) {
	start := time.Now()

	names, err := ListClips(inputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	p.logger.Info("starting batch",
		slog.String("input_dir", inputDir),
		slog.String("output_dir", outputDir),
		slog.Int("clips", len(names)),
		slog.Float64("threshold", opts.Threshold),
		slog.Int("workers", p.workers),
	)

	results := make([]FileResult, len(names))
	processed := make([]bool, len(names))

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, name := range names {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := p.trimOne(gctx, inputDir, outputDir, name, opts)

			mu.Lock()
			defer mu.Unlock()
			results[i] = res
			processed[i] = true
			done++
			if p.progress != nil {
				p.progress(done, len(names), res)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{InputDir: inputDir, OutputDir: outputDir}
	for i, res := range results {
		if !processed[i] {
			continue
		}
		report.Files = append(report.Files, res)
		switch res.Outcome {
		case OutcomeTrimmed:
			report.Trimmed++
		case OutcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	report.Elapsed = time.Since(start)
	p.metrics.RecordBatch(report.Elapsed)

	p.logger.Info("batch complete",
		slog.String("input_dir", inputDir),
		slog.Int("clips", len(names)),
		slog.Int("trimmed", report.Trimmed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Elapsed),
	)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("batch interrupted: %w", err)
	}
	return report, nil
}

func (p *Processor) trimOne(ctx context.Context, inputDir, outputDir, name string, opts audio.TrimOpts) FileResult {
	start := time.Now()
	res := FileResult{
		Name:       name,
		InputPath:  filepath.Join(inputDir, name),
		OutputPath: filepath.Join(outputDir, OutputName(name)),
	}

	tr, err := p.trimmer.TrimFile(ctx, res.InputPath, res.OutputPath, opts)
	res.SampleRate = tr.SampleRate
	res.Boundaries = tr.Boundaries
	res.InputSamples = tr.InputSamples
	res.OutputSamples = tr.OutputSamples
	res.Outcome, res.Reason = Classify(err)

	if err != nil {
		res.OutputPath = ""
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		p.metrics.RecordClip(string(res.Outcome), string(res.Reason), res.Elapsed, 0)

		level := slog.LevelWarn
		msg := "skipping clip"
		if res.Outcome == OutcomeFailed {
			level = slog.LevelError
			msg = "failed to trim clip"
		}
		p.logger.Log(ctx, level, msg,
			slog.String("file", name),
			slog.String("reason", string(res.Reason)),
			slog.String("error", err.Error()),
		)
		return res
	}

	if p.publisher != nil {
		url, err := p.publisher.Publish(ctx, res.OutputPath)
		p.metrics.RecordPublish(err)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Reason = ReasonPublishError
			res.Error = err.Error()
			res.Elapsed = time.Since(start)
			p.metrics.RecordClip(string(res.Outcome), string(res.Reason), res.Elapsed, 0)
			p.logger.Error("failed to publish trimmed clip",
				slog.String("file", name),
				slog.String("output", res.OutputPath),
				slog.String("error", err.Error()),
			)
			return res
		}
		res.URL = url
	}

	res.Elapsed = time.Since(start)
	var outSeconds float64
	if res.SampleRate > 0 {
		outSeconds = float64(res.OutputSamples) / float64(res.SampleRate)
	}
	p.metrics.RecordClip(string(res.Outcome), string(res.Reason), res.Elapsed, outSeconds)

	attrs := []any{
		slog.String("file", name),
		slog.Int("start", res.Boundaries.Start.Index),
		slog.Int("end", res.Boundaries.End.Index),
		slog.Int("input_samples", res.InputSamples),
		slog.Int("output_samples", res.OutputSamples),
		slog.String("output", res.OutputPath),
	}
	if res.URL != "" {
		attrs = append(attrs, slog.String("url", res.URL))
	}
	p.logger.Info("trimmed clip", attrs...)

	return res
}
