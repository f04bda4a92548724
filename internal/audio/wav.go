package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// ErrMalformedAudio is returned when WAV input cannot be decoded.
// It indicates corrupt or unsupported input, as opposed to valid but silent input.
var ErrMalformedAudio = errors.New("audio: malformed WAV input")

const (
	pcmFormat     = 1
	pcmBitDepth   = 16
	maxInChannels = 2
)

// Buffer is a decoded mono PCM16 clip.
type Buffer struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the length of the buffer in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Decode reads a 16-bit PCM WAV stream and returns its samples as mono.
// Stereo input keeps the first channel only; the second is discarded, not mixed in.
// Every header or data problem is reported as an error wrapping ErrMalformedAudio.
func Decode(r io.ReadSeeker) (Buffer, error) {
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return Buffer{}, fmt.Errorf("%w: read header: %v", ErrMalformedAudio, err)
	}

	switch {
	case d.NumChans == 0:
		return Buffer{}, fmt.Errorf("%w: missing fmt chunk", ErrMalformedAudio)
	case d.WavAudioFormat != pcmFormat:
		return Buffer{}, fmt.Errorf("%w: unsupported audio format %d (only PCM)", ErrMalformedAudio, d.WavAudioFormat)
	case d.BitDepth != pcmBitDepth:
		return Buffer{}, fmt.Errorf("%w: unsupported bit depth %d (only 16-bit)", ErrMalformedAudio, d.BitDepth)
	case d.NumChans > maxInChannels:
		return Buffer{}, fmt.Errorf("%w: unsupported channel count %d", ErrMalformedAudio, d.NumChans)
	case d.SampleRate == 0:
		return Buffer{}, fmt.Errorf("%w: zero sample rate", ErrMalformedAudio)
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: read PCM data: %v", ErrMalformedAudio, err)
	}
	if pcm == nil {
		return Buffer{}, fmt.Errorf("%w: PCM data not found", ErrMalformedAudio)
	}
	// go-audio fills a trailing partial frame from leftover bytes instead of failing.
	if frame := int(d.NumChans) * pcmBitDepth / 8; d.PCMSize%frame != 0 {
		return Buffer{}, fmt.Errorf("%w: data chunk of %d bytes is not a whole number of %d-byte frames",
			ErrMalformedAudio, d.PCMSize, frame)
	}

	step := int(d.NumChans)
	samples := make([]int16, 0, (len(pcm.Data)+step-1)/step)
	for i := 0; i < len(pcm.Data); i += step {
		samples = append(samples, int16(pcm.Data[i]))
	}

	return Buffer{Samples: samples, SampleRate: int(d.SampleRate)}, nil
}

// DecodeFile decodes the WAV file at path.
func DecodeFile(path string) (Buffer, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return Buffer{}, fmt.Errorf("open wav file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

// DecodeBytes decodes an in-memory WAV blob, e.g. one received over the network.
func DecodeBytes(data []byte) (Buffer, error) {
	return Decode(bytes.NewReader(data))
}

// Encode writes buf as a mono 16-bit PCM WAV stream.
func Encode(w io.WriteSeeker, buf Buffer) error {
	if buf.SampleRate <= 0 {
		return fmt.Errorf("encode wav: invalid sample rate %d", buf.SampleRate)
	}

	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(w, buf.SampleRate, pcmBitDepth, 1, pcmFormat)
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: pcmBitDepth,
	})
	if err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// EncodeFile writes buf to path, replacing any existing file.
func EncodeFile(path string, buf Buffer) error {
	f, err := os.Create(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}

	if err := Encode(f, buf); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("close wav file: %w", err)
	}
	return nil
}

// EncodeBytes returns buf encoded as an in-memory WAV blob.
func EncodeBytes(buf Buffer) ([]byte, error) {
	ws := &writerseeker.WriterSeeker{}
	if err := Encode(ws, buf); err != nil {
		return nil, err
	}
	return io.ReadAll(ws.Reader())
}
