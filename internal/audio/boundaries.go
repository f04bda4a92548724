package audio

// Boundary is an optional index into a sample buffer.
// Index 0 is a legitimate boundary; absence is signalled by Found being false.
type Boundary struct {
	Index int
	Found bool
}

// At returns a found boundary at index i.
func At(i int) Boundary {
	return Boundary{Index: i, Found: true}
}

// Boundaries holds the start and end of the active region of a buffer.
// Start is inclusive and End is exclusive.
type Boundaries struct {
	Start Boundary
	End   Boundary
}

// Valid reports whether both boundaries were found and delimit a non-empty span.
func (b Boundaries) Valid() bool {
	return b.Start.Found && b.End.Found && b.Start.Index < b.End.Index
}

// WindowSize returns the number of samples in an energy window of windowSec
// seconds at sampleRate, truncated toward zero.
func WindowSize(sampleRate int, windowSec float64) int {
	if sampleRate <= 0 || windowSec <= 0 {
		return 0
	}
	return int(windowSec * float64(sampleRate))
}

// FindActiveBoundaries locates the first and last active windows of samples.
//
// The start scan moves forward over windows samples[i-w:i] for i in [w, len-1]
// and stops at the first window whose mean absolute amplitude reaches the
// threshold, setting Start to i-w. The end scan moves backward over windows
// samples[i:i+w] for i in [len-w, 1] and sets End to i+w on its first match.
// Earlier activity always wins over later, louder activity.
//
// Buffers no longer than one window yield no boundaries. Either boundary may
// be absent independently; that is not an error.
func FindActiveBoundaries(samples []int16, sampleRate int, opts TrimOpts) Boundaries {
	w := WindowSize(sampleRate, opts.windowSec())
	n := len(samples)
	if w == 0 || n <= w {
		return Boundaries{}
	}

	var b Boundaries
	if i, ok := scanForward(samples, w, opts.Threshold); ok {
		b.Start = At(max(0, i-w))
	}
	if i, ok := scanBackward(samples, w, opts.Threshold); ok {
		b.End = At(min(n, i+w))
	}
	return b
}

// scanForward returns the first i in [w, len-1] whose window samples[i-w:i] is active.
func scanForward(samples []int16, w int, threshold float64) (int, bool) {
	var sum int64
	for _, s := range samples[:w] {
		sum += magnitude(s)
	}
	for i := w; i < len(samples); i++ {
		if active(sum, w, threshold) {
			return i, true
		}
		sum += magnitude(samples[i]) - magnitude(samples[i-w])
	}
	return 0, false
}

// scanBackward returns the first i in [len-w, 1], scanning down, whose window
// samples[i:i+w] is active.
func scanBackward(samples []int16, w int, threshold float64) (int, bool) {
	n := len(samples)
	var sum int64
	for _, s := range samples[n-w:] {
		sum += magnitude(s)
	}
	for i := n - w; i >= 1; i-- {
		if active(sum, w, threshold) {
			return i, true
		}
		sum += magnitude(samples[i-1]) - magnitude(samples[i-1+w])
	}
	return 0, false
}

func active(sum int64, w int, threshold float64) bool {
	return float64(sum)/float64(w) >= threshold
}

// magnitude widens before negating so that -32768 maps to 32768.
func magnitude(s int16) int64 {
	v := int64(s)
	if v < 0 {
		return -v
	}
	return v
}

// ExtractActiveSegment returns a copy of the active span of samples.
// The second return value is false when no valid span exists, which is the
// expected outcome for silent input.
func ExtractActiveSegment(samples []int16, sampleRate int, opts TrimOpts) ([]int16, bool) {
	b := FindActiveBoundaries(samples, sampleRate, opts)
	if !b.Valid() {
		return nil, false
	}
	out := make([]int16, b.End.Index-b.Start.Index)
	copy(out, samples[b.Start.Index:b.End.Index])
	return out, true
}

// CutSegment returns durationSec seconds of samples starting at start.
// If the window would run past the end of the buffer it is shifted left to end
// exactly at len(samples). Short buffers are returned whole, without padding.
func CutSegment(samples []int16, start int, durationSec float64, sampleRate int) []int16 {
	n := len(samples)
	target := 0
	if durationSec > 0 && sampleRate > 0 {
		target = int(durationSec * float64(sampleRate))
	}
	start = min(max(start, 0), n)

	end := start + target
	if end > n {
		start = max(0, n-target)
		end = n
	}
	return samples[start:end]
}
