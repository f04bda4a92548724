package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/wakeword-trim/internal/audio"
	"github.com/maauso/wakeword-trim/internal/metrics"
)

// mockTrimmer implements audio.Trimmer for testing.
type mockTrimmer struct {
	mock.Mock
}

func (m *mockTrimmer) TrimFile(ctx context.Context, inputWav, outputWav string, opts audio.TrimOpts) (audio.TrimResult, error) {
	args := m.Called(ctx, inputWav, outputWav, opts)
	return args.Get(0).(audio.TrimResult), args.Error(1)
}

func (m *mockTrimmer) TrimBytes(ctx context.Context, wav []byte, opts audio.TrimOpts) ([]byte, audio.TrimResult, error) {
	args := m.Called(ctx, wav, opts)
	if args.Get(0) == nil {
		return nil, args.Get(1).(audio.TrimResult), args.Error(2)
	}
	return args.Get(0).([]byte), args.Get(1).(audio.TrimResult), args.Error(2)
}

// mockPublisher implements Publisher for testing.
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Error(1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func burst(n, onset, length int, amp int16) []int16 {
	samples := make([]int16, n)
	for i := onset; i < onset+length && i < n; i++ {
		samples[i] = amp
	}
	return samples
}

func writeClip(t *testing.T, dir, name string, samples []int16, sampleRate int) {
	t.Helper()
	require.NoError(t, audio.EncodeFile(filepath.Join(dir, name), audio.Buffer{Samples: samples, SampleRate: sampleRate}))
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
}

func TestListClips(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.wav")
	touch(t, dir, "a.wav")
	touch(t, dir, "C.WAV")
	touch(t, dir, "notes.txt")
	touch(t, dir, "wav")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.wav"), 0o750))

	names, err := ListClips(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{"C.WAV", "a.wav", "b.wav"}, names)
}

func TestListClips_MissingDir(t *testing.T) {
	_, err := ListClips(filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantOutcome Outcome
		wantReason  Reason
	}{
		{"success", nil, OutcomeTrimmed, ReasonNone},
		{"sample rate", fmt.Errorf("%w: expected 16000 Hz, got 8000 Hz", audio.ErrSampleRateMismatch), OutcomeSkipped, ReasonSampleRateMismatch},
		{"silence", audio.ErrNoActiveSegment, OutcomeSkipped, ReasonNoActiveSegment},
		{"malformed", fmt.Errorf("%w: missing fmt chunk", audio.ErrMalformedAudio), OutcomeFailed, ReasonMalformedAudio},
		{"cancelled", fmt.Errorf("context cancelled: %w", context.Canceled), OutcomeFailed, ReasonCancelled},
		{"io", fmt.Errorf("open wav file: %w", os.ErrPermission), OutcomeFailed, ReasonIOError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, reason := Classify(tt.err)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestRun_ContinuesPastBadClips(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "output")
	for _, name := range []string{"a.wav", "b.wav", "c.wav", "d.wav"} {
		touch(t, in, name)
	}

	trimmer := &mockTrimmer{}
	opts := audio.DefaultTrimOpts()
	ok := audio.TrimResult{
		SampleRate:    16000,
		InputSamples:  4800,
		Boundaries:    audio.Boundaries{Start: audio.At(24), End: audio.At(4776)},
		OutputSamples: 4752,
	}
	trimmer.On("TrimFile", mock.Anything, filepath.Join(in, "a.wav"), filepath.Join(out, "trimmed_a.wav"), opts).
		Return(ok, nil)
	trimmer.On("TrimFile", mock.Anything, filepath.Join(in, "b.wav"), filepath.Join(out, "trimmed_b.wav"), opts).
		Return(audio.TrimResult{SampleRate: 8000}, fmt.Errorf("%w: expected 16000 Hz, got 8000 Hz", audio.ErrSampleRateMismatch))
	trimmer.On("TrimFile", mock.Anything, filepath.Join(in, "c.wav"), filepath.Join(out, "trimmed_c.wav"), opts).
		Return(audio.TrimResult{}, fmt.Errorf("%w: missing fmt chunk", audio.ErrMalformedAudio))
	trimmer.On("TrimFile", mock.Anything, filepath.Join(in, "d.wav"), filepath.Join(out, "trimmed_d.wav"), opts).
		Return(audio.TrimResult{SampleRate: 16000, InputSamples: 16000}, audio.ErrNoActiveSegment)

	m := metrics.New()
	p := NewProcessor(trimmer, WithLogger(quietLogger()), WithMetrics(m), WithWorkers(2))

	report, err := p.Run(context.Background(), in, out, opts)

	require.NoError(t, err)
	trimmer.AssertExpectations(t)
	assert.DirExists(t, out)

	require.Len(t, report.Files, 4)
	assert.Equal(t, 1, report.Trimmed)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 4, report.Total())

	a, b, c, d := report.Files[0], report.Files[1], report.Files[2], report.Files[3]
	assert.Equal(t, "a.wav", a.Name)
	assert.Equal(t, OutcomeTrimmed, a.Outcome)
	assert.Equal(t, filepath.Join(out, "trimmed_a.wav"), a.OutputPath)
	assert.Equal(t, 4752, a.OutputSamples)
	assert.Equal(t, audio.At(24), a.Boundaries.Start)

	assert.Equal(t, OutcomeSkipped, b.Outcome)
	assert.Equal(t, ReasonSampleRateMismatch, b.Reason)
	assert.Empty(t, b.OutputPath)
	assert.Contains(t, b.Error, "8000 Hz")

	assert.Equal(t, OutcomeFailed, c.Outcome)
	assert.Equal(t, ReasonMalformedAudio, c.Reason)

	assert.Equal(t, OutcomeSkipped, d.Outcome)
	assert.Equal(t, ReasonNoActiveSegment, d.Reason)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClipsProcessed.WithLabelValues("skipped", "no_active_segment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesRun))
}

func TestRun_RealClips(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(in, "output")

	speech := burst(16000, 6000, 4000, 8000)
	writeClip(t, in, "hey_computer_01.wav", speech, 16000)
	writeClip(t, in, "hey_computer_02.wav", make([]int16, 16000), 16000)
	writeClip(t, in, "hey_computer_03.wav", burst(8000, 2000, 2000, 8000), 8000)
	touch(t, in, "hey_computer_04.wav")

	p := NewProcessor(audio.NewPCMTrimmer(), WithLogger(quietLogger()))

	report, err := p.Run(context.Background(), in, out, audio.DefaultTrimOpts())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Trimmed)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Failed)

	written, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, "trimmed_hey_computer_01.wav", written[0].Name())

	want, ok := audio.ExtractActiveSegment(speech, 16000, audio.DefaultTrimOpts())
	require.True(t, ok)
	got, err := audio.DecodeFile(filepath.Join(out, "trimmed_hey_computer_01.wav"))
	require.NoError(t, err)
	assert.Equal(t, want, got.Samples)
}

func TestRun_EmptyDir(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	p := NewProcessor(&mockTrimmer{}, WithLogger(quietLogger()))

	report, err := p.Run(context.Background(), t.TempDir(), out, audio.DefaultTrimOpts())

	require.NoError(t, err)
	assert.Empty(t, report.Files)
	assert.Zero(t, report.Total())
	assert.DirExists(t, out)
}

func TestRun_FatalErrors(t *testing.T) {
	t.Run("missing input directory", func(t *testing.T) {
		p := NewProcessor(&mockTrimmer{}, WithLogger(quietLogger()))

		report, err := p.Run(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir(), audio.DefaultTrimOpts())

		require.Error(t, err)
		assert.Nil(t, report)
	})

	t.Run("output directory cannot be created", func(t *testing.T) {
		in := t.TempDir()
		touch(t, in, "a.wav")
		blocker := filepath.Join(t.TempDir(), "file")
		touch(t, filepath.Dir(blocker), "file")
		trimmer := &mockTrimmer{}
		p := NewProcessor(trimmer, WithLogger(quietLogger()))

		report, err := p.Run(context.Background(), in, filepath.Join(blocker, "out"), audio.DefaultTrimOpts())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "create output directory")
		assert.Nil(t, report)
		trimmer.AssertNotCalled(t, "TrimFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRun_Publisher(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	touch(t, in, "a.wav")
	touch(t, in, "b.wav")

	trimmer := &mockTrimmer{}
	trimmer.On("TrimFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(audio.TrimResult{SampleRate: 16000, OutputSamples: 8000}, nil)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, filepath.Join(out, "trimmed_a.wav")).
		Return("https://bucket.s3.us-east-1.amazonaws.com/trimmed/trimmed_a.wav", nil)
	pub.On("Publish", mock.Anything, filepath.Join(out, "trimmed_b.wav")).
		Return("", errors.New("upload to S3: access denied"))

	m := metrics.New()
	p := NewProcessor(trimmer, WithLogger(quietLogger()), WithPublisher(pub), WithMetrics(m))

	report, err := p.Run(context.Background(), in, out, audio.DefaultTrimOpts())

	require.NoError(t, err)
	pub.AssertExpectations(t)
	require.Len(t, report.Files, 2)
	assert.Equal(t, "https://bucket.s3.us-east-1.amazonaws.com/trimmed/trimmed_a.wav", report.Files[0].URL)
	assert.Equal(t, OutcomeTrimmed, report.Files[0].Outcome)
	assert.Equal(t, OutcomeFailed, report.Files[1].Outcome)
	assert.Equal(t, ReasonPublishError, report.Files[1].Reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClipsPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures))
}

func TestRun_ProgressAndConcurrency(t *testing.T) {
	in := t.TempDir()
	const clips = 12
	for i := 0; i < clips; i++ {
		touch(t, in, fmt.Sprintf("clip_%02d.wav", i))
	}

	var inFlight, peak atomic.Int32
	trimmer := &mockTrimmer{}
	trimmer.On("TrimFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		}).
		Return(audio.TrimResult{SampleRate: 16000}, nil)

	var (
		mu    sync.Mutex
		calls []int
	)
	p := NewProcessor(trimmer,
		WithLogger(quietLogger()),
		WithWorkers(3),
		WithProgress(func(done, total int, _ FileResult) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, clips, total)
			calls = append(calls, done)
		}),
	)

	report, err := p.Run(context.Background(), in, t.TempDir(), audio.DefaultTrimOpts())

	require.NoError(t, err)
	assert.Equal(t, clips, report.Trimmed)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	require.Len(t, calls, clips)
	for i, done := range calls {
		assert.Equal(t, i+1, done)
	}
	for i, f := range report.Files {
		assert.Equal(t, fmt.Sprintf("clip_%02d.wav", i), f.Name)
	}
}

func TestRun_Cancelled(t *testing.T) {
	in := t.TempDir()
	for i := 0; i < 5; i++ {
		touch(t, in, fmt.Sprintf("clip_%d.wav", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trimmer := &mockTrimmer{}
	p := NewProcessor(trimmer, WithLogger(quietLogger()))

	report, err := p.Run(ctx, in, t.TempDir(), audio.DefaultTrimOpts())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Files)
	trimmer.AssertNotCalled(t, "TrimFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
