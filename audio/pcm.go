package audio

import "encoding/binary"

const (
	// SampleRate is the fixed rate of the realtime audio stream.
	SampleRate     = 24_000
	BytesPerSample = 2 // 16-bit mono PCM
)

func PCM16ToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func SamplesToPCM16(samples []int16) []byte {
	b := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// PCM16ToFloats converts PCM16 bytes to samples in the range -1..1.
func PCM16ToFloats(b []byte) []float64 {
	out := make([]float64, len(b)/BytesPerSample)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768.0
	}
	return out
}

func stereoSamplesToPCM16Mono(s [][2]float64) []byte {
	b := make([]byte, len(s)*BytesPerSample)
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(floatToPCM16(v[0]))) // take left channel
	}
	return b
}

func floatToPCM16(f float64) int16 {
	return int16(clamp(f) * 32767)
}

func clamp(f float64) float64 {
	switch {
	case f > 1:
		return 1
	case f < -1:
		return -1
	default:
		return f
	}
}
