package audio

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withBurst returns n samples of silence with amp written over [onset, onset+length).
func withBurst(n, onset, length int, amp int16) []int16 {
	samples := make([]int16, n)
	for i := onset; i < onset+length && i < n; i++ {
		samples[i] = amp
	}
	return samples
}

// naiveBoundaries recomputes every window mean from scratch.
func naiveBoundaries(samples []int16, sampleRate int, threshold float64) Boundaries {
	w := WindowSize(sampleRate, DefaultWindowSec)
	n := len(samples)
	var b Boundaries
	if w == 0 || n <= w {
		return b
	}
	mean := func(window []int16) float64 {
		var sum float64
		for _, s := range window {
			v := float64(s)
			if v < 0 {
				v = -v
			}
			sum += v
		}
		return sum / float64(len(window))
	}
	for i := w; i < n; i++ {
		if mean(samples[i-w:i]) >= threshold {
			b.Start = At(max(0, i-w))
			break
		}
	}
	for i := n - w; i > 0; i-- {
		if mean(samples[i:i+w]) >= threshold {
			b.End = At(min(n, i+w))
			break
		}
	}
	return b
}

func opts(threshold float64) TrimOpts {
	o := DefaultTrimOpts()
	o.Threshold = threshold
	return o
}

func TestWindowSize(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		windowSec  float64
		want       int
	}{
		{"16 kHz default window", 16000, 0.1, 1600},
		{"44.1 kHz default window", 44100, 0.1, 4410},
		{"8 kHz default window", 8000, 0.1, 800},
		{"truncates toward zero", 5, 0.1, 0},
		{"zero sample rate", 0, 0.1, 0},
		{"zero window", 16000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WindowSize(tt.sampleRate, tt.windowSec))
		})
	}
}

func TestFindActiveBoundaries_Silence(t *testing.T) {
	for _, n := range []int{0, 1, 1600, 1601, 4800, 16000} {
		b := FindActiveBoundaries(make([]int16, n), 16000, opts(300))
		assert.False(t, b.Start.Found, "n=%d", n)
		assert.False(t, b.End.Found, "n=%d", n)
		assert.False(t, b.Valid(), "n=%d", n)
	}
}

func TestFindActiveBoundaries_BufferNotLongerThanWindow(t *testing.T) {
	loud := withBurst(1600, 0, 1600, 20000)
	b := FindActiveBoundaries(loud, 16000, opts(300))
	assert.Equal(t, Boundaries{}, b)

	b = FindActiveBoundaries(loud[:100], 16000, opts(300))
	assert.Equal(t, Boundaries{}, b)
}

func TestFindActiveBoundaries_ZeroWindow(t *testing.T) {
	loud := withBurst(100, 0, 100, 20000)
	b := FindActiveBoundaries(loud, 5, opts(300))
	assert.Equal(t, Boundaries{}, b)
}

func TestFindActiveBoundaries_OneSampleLongerThanWindow(t *testing.T) {
	loud := withBurst(1601, 0, 1601, 20000)
	b := FindActiveBoundaries(loud, 16000, opts(300))
	assert.Equal(t, At(0), b.Start)
	assert.Equal(t, At(1601), b.End)
}

func TestFindActiveBoundaries_CenteredBurst(t *testing.T) {
	// 0.1 s of silence, 0.1 s at 20000, 0.1 s of silence.
	samples := withBurst(4800, 1600, 1600, 20000)

	b := FindActiveBoundaries(samples, 16000, opts(300))

	// The first window reaching a mean of 300 holds 24 loud samples.
	require.True(t, b.Valid())
	assert.Equal(t, 24, b.Start.Index)
	assert.Equal(t, 4776, b.End.Index)

	segment, ok := ExtractActiveSegment(samples, 16000, opts(300))
	require.True(t, ok)
	assert.Len(t, segment, 4752)
	assert.Equal(t, samples[24:4776], segment)
}

func TestFindActiveBoundaries_BurstPadding(t *testing.T) {
	const (
		w         = 1600
		amp       = 10000
		threshold = 300
		// loud samples needed for a window mean to reach the threshold
		k = threshold * w / amp
	)

	t.Run("burst inside buffer is bracketed by one window", func(t *testing.T) {
		onset, length := 8000, 3200
		samples := withBurst(16000, onset, length, amp)

		b := FindActiveBoundaries(samples, 16000, opts(threshold))

		assert.Equal(t, At(onset-w+k), b.Start)
		assert.Equal(t, At(onset+length+w-k), b.End)
	})

	t.Run("padding is clipped to the buffer start", func(t *testing.T) {
		samples := withBurst(8000, 0, 3200, amp)

		b := FindActiveBoundaries(samples, 16000, opts(threshold))

		assert.Equal(t, At(0), b.Start, "index 0 is a found boundary")
		assert.Equal(t, At(3200+w-k), b.End)
	})

	t.Run("padding is clipped to the buffer end", func(t *testing.T) {
		samples := withBurst(8000, 4800, 3200, amp)

		b := FindActiveBoundaries(samples, 16000, opts(threshold))

		assert.Equal(t, At(4800-w+k), b.Start)
		assert.Equal(t, At(8000), b.End)
	})
}

func TestFindActiveBoundaries_FirstMatchWins(t *testing.T) {
	// A quiet burst followed by a much louder one.
	samples := withBurst(16000, 3200, 1600, 400)
	for i := 9600; i < 11200; i++ {
		samples[i] = 30000
	}

	b := FindActiveBoundaries(samples, 16000, opts(300))

	// 1200 samples at 400 give a window mean of 300.
	assert.Equal(t, At(3200+1200-1600), b.Start)
	assert.Equal(t, At(11200+1600-16), b.End)
}

func TestFindActiveBoundaries_IndependentAbsence(t *testing.T) {
	t.Run("start only", func(t *testing.T) {
		samples := make([]int16, 1601)
		samples[0] = 30000

		b := FindActiveBoundaries(samples, 16000, opts(18))

		assert.Equal(t, At(0), b.Start)
		assert.False(t, b.End.Found)
		assert.False(t, b.Valid())

		_, ok := ExtractActiveSegment(samples, 16000, opts(18))
		assert.False(t, ok)
	})

	t.Run("end only", func(t *testing.T) {
		samples := make([]int16, 1601)
		samples[1600] = 30000

		b := FindActiveBoundaries(samples, 16000, opts(18))

		assert.False(t, b.Start.Found)
		assert.Equal(t, At(1601), b.End)
		assert.False(t, b.Valid())
	})
}

func TestFindActiveBoundaries_MostNegativeSample(t *testing.T) {
	samples := make([]int16, 3200)
	for i := range samples {
		samples[i] = -32768
	}

	b := FindActiveBoundaries(samples, 16000, opts(32768))

	assert.Equal(t, At(0), b.Start)
	assert.Equal(t, At(3200), b.End)
}

func TestFindActiveBoundaries_MatchesNaiveScan(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 40; round++ {
		n := 1000 + rng.Intn(6000)
		samples := make([]int16, n)
		for i := range samples {
			switch {
			case rng.Intn(10) == 0:
				samples[i] = int16(rng.Intn(65536) - 32768)
			default:
				samples[i] = int16(rng.Intn(200) - 100)
			}
		}
		threshold := float64(rng.Intn(4000))

		got := FindActiveBoundaries(samples, 8000, opts(threshold))
		want := naiveBoundaries(samples, 8000, threshold)

		require.Equal(t, want, got, "round %d, n=%d, threshold=%v", round, n, threshold)
	}
}

func TestBoundaries_Valid(t *testing.T) {
	assert.True(t, Boundaries{Start: At(0), End: At(1)}.Valid())
	assert.False(t, Boundaries{Start: At(5), End: At(5)}.Valid())
	assert.False(t, Boundaries{Start: At(6), End: At(5)}.Valid())
	assert.False(t, Boundaries{Start: At(0)}.Valid())
	assert.False(t, Boundaries{End: At(10)}.Valid())
}

func TestExtractActiveSegment_Silence(t *testing.T) {
	segment, ok := ExtractActiveSegment(make([]int16, 16000), 16000, opts(300))
	assert.False(t, ok)
	assert.Nil(t, segment)
}

func TestExtractActiveSegment_ReturnsCopy(t *testing.T) {
	samples := withBurst(16000, 8000, 3200, 10000)

	segment, ok := ExtractActiveSegment(samples, 16000, opts(300))
	require.True(t, ok)

	segment[len(segment)/2] = 1
	assert.Equal(t, int16(10000), samples[6448+len(segment)/2])
}

func TestExtractActiveSegment_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	inputs := [][]int16{
		withBurst(4800, 1600, 1600, 20000),
		withBurst(16000, 8000, 3200, 10000),
		withBurst(8000, 0, 3200, 10000),
	}
	for i := 0; i < 20; i++ {
		n := 2000 + rng.Intn(8000)
		onset := rng.Intn(n)
		inputs = append(inputs, withBurst(n, onset, rng.Intn(n-onset+1), int16(rng.Intn(32767))))
	}

	for i, samples := range inputs {
		first, ok := ExtractActiveSegment(samples, 16000, opts(300))
		if !ok {
			continue
		}
		second, ok := ExtractActiveSegment(first, 16000, opts(300))
		if !ok {
			continue
		}
		assert.Equal(t, first, second, "input %d was shrunk by a second pass", i)
	}
}

func TestExtractActiveSegment_CustomWindow(t *testing.T) {
	samples := withBurst(16000, 8000, 3200, 10000)
	o := opts(300)
	o.WindowSec = 0.05 // 800 samples

	b := FindActiveBoundaries(samples, 16000, o)

	k := 300 * 800 / 10000
	assert.Equal(t, At(8000-800+k), b.Start)
	assert.Equal(t, At(11200+800-k), b.End)
}

func TestCutSegment(t *testing.T) {
	ramp := make([]int16, 32000)
	for i := range ramp {
		ramp[i] = int16(i % 30000)
	}

	t.Run("window fits", func(t *testing.T) {
		got := CutSegment(ramp, 1000, 1.0, 16000)
		assert.Equal(t, ramp[1000:17000], got)
	})

	t.Run("window shifted left to end at buffer end", func(t *testing.T) {
		got := CutSegment(ramp, 20000, 1.0, 16000)
		require.Len(t, got, 16000)
		assert.Equal(t, ramp[16000:32000], got)
	})

	t.Run("short buffer returned whole", func(t *testing.T) {
		got := CutSegment(ramp[:8000], 100, 1.0, 16000)
		assert.Equal(t, ramp[:8000], got)
	})

	t.Run("negative start clamped", func(t *testing.T) {
		got := CutSegment(ramp, -50, 0.5, 16000)
		assert.Equal(t, ramp[:8000], got)
	})

	t.Run("zero duration is empty", func(t *testing.T) {
		assert.Empty(t, CutSegment(ramp, 100, 0, 16000))
	})

	t.Run("length is min(target, len)", func(t *testing.T) {
		for _, n := range []int{0, 1, 15999, 16000, 16001, 32000} {
			for _, start := range []int{0, 1, n / 2, n, n + 10} {
				got := CutSegment(ramp[:n], start, 1.0, 16000)
				assert.Len(t, got, min(16000, n), "n=%d start=%d", n, start)
				if start+16000 > n && len(got) > 0 {
					assert.Equal(t, ramp[n-1], got[len(got)-1], "n=%d start=%d", n, start)
				}
			}
		}
	})
}
