package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// TrimBuffer validates buf against opts and returns its active span.
//
// A sample rate other than opts.ExpectedSampleRate yields ErrSampleRateMismatch
// and a buffer without a valid active span yields ErrNoActiveSegment. When
// opts.ClipDurationSec is set, the span is cropped with CutSegment.
func TrimBuffer(buf Buffer, opts TrimOpts) (Buffer, TrimResult, error) {
	res := TrimResult{
		SampleRate:   buf.SampleRate,
		InputSamples: len(buf.Samples),
	}

	if opts.ExpectedSampleRate > 0 && buf.SampleRate != opts.ExpectedSampleRate {
		return Buffer{}, res, fmt.Errorf("%w: expected %d Hz, got %d Hz",
			ErrSampleRateMismatch, opts.ExpectedSampleRate, buf.SampleRate)
	}

	res.Boundaries = FindActiveBoundaries(buf.Samples, buf.SampleRate, opts)
	if !res.Boundaries.Valid() {
		return Buffer{}, res, ErrNoActiveSegment
	}

	segment := make([]int16, res.Boundaries.End.Index-res.Boundaries.Start.Index)
	copy(segment, buf.Samples[res.Boundaries.Start.Index:res.Boundaries.End.Index])

	if opts.ClipDurationSec > 0 {
		segment = CutSegment(segment, 0, opts.ClipDurationSec, buf.SampleRate)
	}

	res.OutputSamples = len(segment)
	return Buffer{Samples: segment, SampleRate: buf.SampleRate}, res, nil
}

// PCMTrimmer implements Trimmer entirely in-process.
type PCMTrimmer struct{}

// NewPCMTrimmer creates a new PCMTrimmer.
func NewPCMTrimmer() *PCMTrimmer {
	return &PCMTrimmer{}
}

// TrimFile implements Trimmer.TrimFile.
func (t *PCMTrimmer) TrimFile(ctx context.Context, inputWav, outputWav string, opts TrimOpts) (TrimResult, error) {
	if err := ctx.Err(); err != nil {
		return TrimResult{}, fmt.Errorf("context cancelled: %w", err)
	}

	buf, err := DecodeFile(inputWav)
	if err != nil {
		return TrimResult{}, err
	}

	trimmed, res, err := TrimBuffer(buf, opts)
	if err != nil {
		return res, err
	}

	if err := os.MkdirAll(filepath.Dir(outputWav), 0o755); err != nil {
		return res, fmt.Errorf("create output directory: %w", err)
	}
	if err := EncodeFile(outputWav, trimmed); err != nil {
		return res, err
	}
	return res, nil
}

// TrimBytes implements Trimmer.TrimBytes.
func (t *PCMTrimmer) TrimBytes(ctx context.Context, wav []byte, opts TrimOpts) ([]byte, TrimResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, TrimResult{}, fmt.Errorf("context cancelled: %w", err)
	}

	buf, err := DecodeBytes(wav)
	if err != nil {
		return nil, TrimResult{}, err
	}

	trimmed, res, err := TrimBuffer(buf, opts)
	if err != nil {
		return nil, res, err
	}

	out, err := EncodeBytes(trimmed)
	if err != nil {
		return nil, res, err
	}
	return out, res, nil
}

// Verify interface implementation at compile time.
var _ Trimmer = (*PCMTrimmer)(nil)
