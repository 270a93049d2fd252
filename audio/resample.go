package audio

import (
	"github.com/faiface/beep"
)

// PCMStreamer plays PCM16 mono bytes as a beep streamer, the mono channel
// duplicated to both sides.
type PCMStreamer struct {
	samples []int16
}

func NewPCMStreamer(pcm []byte) *PCMStreamer {
	return &PCMStreamer{samples: PCM16ToSamples(pcm)}
}

// Len returns the number of samples not yet streamed.
func (s *PCMStreamer) Len() int {
	return len(s.samples)
}

func (s *PCMStreamer) Stream(out [][2]float64) (int, bool) {
	if len(s.samples) == 0 {
		return 0, false
	}
	n := min(len(out), len(s.samples))
	for i, v := range s.samples[:n] {
		f := float64(v) / 32768
		out[i] = [2]float64{f, f}
	}
	s.samples = s.samples[n:]
	return n, true
}

func (s *PCMStreamer) Err() error { return nil }

// ResamplePCM converts PCM16 mono audio between sample rates.
func ResamplePCM(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate == toRate {
		return append([]byte(nil), pcm...), nil
	}

	src := NewPCMStreamer(pcm)
	resampled := beep.Resample(3, beep.SampleRate(fromRate), beep.SampleRate(toRate), src)

	expected := int(float64(src.Len())*float64(toRate)/float64(fromRate)) + 1
	out := make([]int16, 0, expected)
	frame := make([][2]float64, 1024)
	for {
		n, ok := resampled.Stream(frame)
		for _, v := range frame[:n] {
			out = append(out, floatToPCM16((v[0]+v[1])/2))
		}
		if !ok {
			break
		}
	}
	if err := resampled.Err(); err != nil {
		return nil, err
	}
	return SamplesToPCM16(out), nil
}
