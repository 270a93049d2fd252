package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// DecodeWAV turns raw PCM16 mono audio into a playable WAV file at toRate.
// It has no side effects.
func DecodeWAV(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d -> %d", fromRate, toRate)
	}

	var s beep.Streamer = NewPCMStreamer(pcm)
	if fromRate != toRate {
		s = beep.Resample(3, beep.SampleRate(fromRate), beep.SampleRate(toRate), s)
	}

	w := &memFile{}
	err := wav.Encode(w, s, beep.Format{
		SampleRate:  beep.SampleRate(toRate),
		NumChannels: 1,
		Precision:   BytesPerSample,
	})
	if err != nil {
		return nil, fmt.Errorf("wav encode: %w", err)
	}
	return w.buf, nil
}

// memFile is an in-memory io.WriteSeeker; wav.Encode seeks back to patch
// the header sizes.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		m.buf = append(m.buf, make([]byte, need-len(m.buf))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(abs)
	return abs, nil
}
