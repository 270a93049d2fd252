package audio

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// FrameReader reads fixed-size frames from a byte stream. Every frame is
// exactly FrameSize bytes, except a shorter last frame when the stream ends
// mid frame.
type FrameReader struct {
	r    io.Reader
	size int
	done bool
}

func NewFrameReader(r io.Reader, frameSize int) *FrameReader {
	return &FrameReader{r: r, size: frameSize}
}

// NewPCMFrameReader frames mono PCM16 audio into d long frames.
func NewPCMFrameReader(r io.Reader, sampleRate int, d time.Duration) *FrameReader {
	return NewFrameReader(r, FrameSize(sampleRate, d, BytesPerSample, 1))
}

// FrameSize returns the number of bytes holding d of audio.
func FrameSize(sampleRate int, d time.Duration, bytesPerSample, channels int) int {
	frames := int(float64(sampleRate) * d.Seconds())
	return frames * bytesPerSample * channels
}

func (f *FrameReader) FrameSize() int {
	return f.size
}

// Read fills p with the next frame. p must hold at least FrameSize bytes.
func (f *FrameReader) Read(p []byte) (int, error) {
	if len(p) < f.size {
		return 0, fmt.Errorf("frame buffer too small: %d < %d", len(p), f.size)
	}
	if f.done {
		return 0, io.EOF
	}

	n, err := io.ReadFull(f.r, p[:f.size])
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		f.done = true
		return n, nil
	case errors.Is(err, io.EOF):
		f.done = true
		return 0, io.EOF
	default:
		return n, err
	}
}
