// Package audio provides silence trimming and WAV decoding for wake-word clips.
package audio

import (
	"context"
	"errors"
)

// Static errors for clip trimming.
var (
	// ErrSampleRateMismatch is returned when a clip's sample rate differs from the expected rate.
	ErrSampleRateMismatch = errors.New("audio: sample rate mismatch")
	// ErrNoActiveSegment is returned when no voice activity could be located in a clip.
	ErrNoActiveSegment = errors.New("audio: no active segment found")
)

// TrimOpts configures silence trimming.
type TrimOpts struct {
	// Threshold is the mean absolute amplitude at or above which a window
	// is considered active. Same scale as sample magnitudes (0-32768).
	// Default: 300.
	Threshold float64

	// WindowSec is the length of the moving-average energy window in seconds.
	// Values <= 0 fall back to the default.
	// Default: 0.1 seconds.
	WindowSec float64

	// ExpectedSampleRate is the sample rate clips must have. Clips at any
	// other rate are rejected with ErrSampleRateMismatch. Zero disables the check.
	// Default: 16000 Hz.
	ExpectedSampleRate int

	// ClipDurationSec crops the active span to a fixed duration starting at
	// its first sample. Zero keeps the full active span.
	// Default: 0.
	ClipDurationSec float64
}

// DefaultWindowSec is the energy window length used when TrimOpts.WindowSec is unset.
const DefaultWindowSec = 0.1

// DefaultTrimOpts returns the default options for silence trimming.
func DefaultTrimOpts() TrimOpts {
	return TrimOpts{
		Threshold:          300,
		WindowSec:          DefaultWindowSec,
		ExpectedSampleRate: 16000,
	}
}

func (o TrimOpts) windowSec() float64 {
	if o.WindowSec <= 0 {
		return DefaultWindowSec
	}
	return o.WindowSec
}

// TrimResult describes the outcome of trimming one clip.
type TrimResult struct {
	// SampleRate is the sample rate detected in the input.
	SampleRate int
	// InputSamples is the number of mono samples decoded from the input.
	InputSamples int
	// Boundaries are the detected active-region boundaries in the input.
	Boundaries Boundaries
	// OutputSamples is the number of samples in the trimmed clip.
	OutputSamples int
}

// Trimmer defines the interface for removing leading and trailing silence from WAV clips.
type Trimmer interface {
	// TrimFile decodes inputWav, trims it and writes the result to outputWav
	// as mono 16-bit PCM at the detected sample rate.
	//
	// Returns ErrSampleRateMismatch, ErrNoActiveSegment or ErrMalformedAudio
	// (wrapped) for clips that cannot produce a trimmed output. No output
	// file is written in those cases.
	TrimFile(ctx context.Context, inputWav, outputWav string, opts TrimOpts) (TrimResult, error)

	// TrimBytes is the in-memory variant of TrimFile. It returns the encoded
	// trimmed WAV.
	TrimBytes(ctx context.Context, wav []byte, opts TrimOpts) ([]byte, TrimResult, error)
}
