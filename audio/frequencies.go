package audio

import "math"

// FrequencyRange selects the band analysed by Frequencies.
type FrequencyRange struct {
	MinHz float64
	MaxHz float64
	Bins  int
}

var (
	VoiceRange = FrequencyRange{MinHz: 32, MaxHz: 2000, Bins: 64}
	MusicRange = FrequencyRange{MinHz: 32, MaxHz: 8000, Bins: 128}
)

const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Frequencies returns the normalized (0..1) magnitude of samples at Bins
// frequencies spread linearly over the range. It is a pure function; the
// visualization layer only reads its output.
func Frequencies(samples []float64, sampleRate int, r FrequencyRange) []float64 {
	if r.Bins <= 0 {
		r.Bins = VoiceRange.Bins
	}
	out := make([]float64, r.Bins)
	if len(samples) == 0 || sampleRate <= 0 {
		return out
	}

	nyquist := float64(sampleRate) / 2
	maxHz := math.Min(r.MaxHz, nyquist)
	step := 0.0
	if r.Bins > 1 {
		step = (maxHz - r.MinHz) / float64(r.Bins-1)
	}

	windowed := hann(samples)
	// a hann window halves the coherent gain
	norm := float64(len(samples)) / 4
	for i := range out {
		freq := r.MinHz + step*float64(i)
		mag := goertzel(windowed, freq, float64(sampleRate)) / norm
		if mag <= 0 {
			continue
		}
		db := 20 * math.Log10(mag)
		out[i] = math.Max(0, math.Min(1, (db-minDecibels)/(maxDecibels-minDecibels)))
	}
	return out
}

func hann(samples []float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 1 {
		out[0] = samples[0]
		return out
	}
	last := float64(len(samples) - 1)
	for i, x := range samples {
		out[i] = x * 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/last))
	}
	return out
}

// goertzel returns the magnitude of a single DFT bin at freq.
func goertzel(samples []float64, freq, sampleRate float64) float64 {
	w := 2 * math.Pi * freq / sampleRate
	coeff := 2 * math.Cos(w)
	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		return 0
	}
	return math.Sqrt(power)
}
