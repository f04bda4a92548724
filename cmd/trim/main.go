// Package main provides the trim command, which removes leading and trailing
// silence from every WAV clip in a directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/wakeword-trim/internal/audio"
	"github.com/maauso/wakeword-trim/internal/batch"
	"github.com/maauso/wakeword-trim/internal/config"
)

// Static errors for flag validation.
var (
	ErrInvalidThreshold  = errors.New("--threshold must not be negative")
	ErrInvalidSampleRate = errors.New("--sample-rate must be positive")
	ErrInvalidWindow     = errors.New("--window-sec must be positive")
	ErrInvalidDuration   = errors.New("--duration must not be negative")
	ErrInvalidWorkers    = errors.New("--workers must be positive")
)

type options struct {
	input      string
	output     string
	threshold  float64
	sampleRate int
	windowSec  float64
	duration   float64
	workers    int
	logFormat  string
	logLevel   string
}

func (o options) validate() error {
	switch {
	case o.threshold < 0:
		return ErrInvalidThreshold
	case o.sampleRate <= 0:
		return ErrInvalidSampleRate
	case o.windowSec <= 0:
		return ErrInvalidWindow
	case o.duration < 0:
		return ErrInvalidDuration
	case o.workers <= 0:
		return ErrInvalidWorkers
	}
	return nil
}

func (o options) trimOpts() audio.TrimOpts {
	return audio.TrimOpts{
		Threshold:          o.threshold,
		WindowSec:          o.windowSec,
		ExpectedSampleRate: o.sampleRate,
		ClipDurationSec:    o.duration,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaults := audio.DefaultTrimOpts()
	opts := options{}

	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Trim leading and trailing silence from wake-word clips",
		Long: `Trim leading and trailing silence from every .wav clip in a directory.
Each clip's active region is found with a moving-average energy window and
written as mono 16-bit PCM to <output>/trimmed_<name>. Clips with the wrong
sample rate or without any activity are skipped and reported.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", ".", "directory containing .wav clips")
	f.StringVarP(&opts.output, "output", "o", "", "output directory (default <input>/output)")
	f.Float64VarP(&opts.threshold, "threshold", "t", defaults.Threshold, "mean absolute amplitude that marks a window as active")
	f.IntVar(&opts.sampleRate, "sample-rate", defaults.ExpectedSampleRate, "required sample rate in Hz")
	f.Float64Var(&opts.windowSec, "window-sec", defaults.WindowSec, "energy window length in seconds")
	f.Float64VarP(&opts.duration, "duration", "d", 0, "crop trimmed clips to this many seconds (0 keeps the full span)")
	f.IntVarP(&opts.workers, "workers", "w", batch.DefaultWorkers, "clips trimmed in parallel")
	f.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	return cmd
}

func run(ctx context.Context, out io.Writer, opts options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.output == "" {
		opts.output = filepath.Join(opts.input, "output")
	}

	logger := config.NewLogger(opts.logFormat, opts.logLevel)
	proc := batch.NewProcessor(audio.NewPCMTrimmer(),
		batch.WithWorkers(opts.workers),
		batch.WithLogger(logger),
	)

	report, err := proc.Run(ctx, opts.input, opts.output, opts.trimOpts())
	if report != nil {
		fmt.Fprintf(out, "%d clips: %d trimmed, %d skipped, %d failed in %s -> %s\n",
			report.Total(), report.Trimmed, report.Skipped, report.Failed,
			report.Elapsed.Round(time.Millisecond), report.OutputDir)
	}
	return err
}
