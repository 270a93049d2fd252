package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// TrackOffset identifies how far a track got when playback stopped.
type TrackOffset struct {
	TrackID string
	Offset  int // samples of the track rendered so far
}

type chunk struct {
	trackID string
	samples []int16
}

// Player renders queued PCM16 chunks to a speaker. Chunks are grouped in
// tracks; each track keeps a running count of rendered samples so playback
// can be cancelled at the exact sample reached.
type Player struct {
	mu          sync.Mutex
	speaker     Speaker
	sampleRate  int
	logger      *slog.Logger
	connected   bool
	queue       []chunk
	pos         int // read position in queue[0]
	played      map[string]int
	enqueued    map[string]int
	interrupted map[string]struct{}
	last        []float64
}

type PlayerOption func(*Player)

func WithPlayerLogger(logger *slog.Logger) PlayerOption {
	return func(p *Player) {
		p.logger = logger
	}
}

func WithPlayerSampleRate(sr int) PlayerOption {
	return func(p *Player) {
		p.sampleRate = sr
	}
}

func NewPlayer(speaker Speaker, opts ...PlayerOption) *Player {
	p := &Player{
		speaker:     speaker,
		sampleRate:  SampleRate,
		logger:      slog.New(slog.DiscardHandler),
		played:      make(map[string]int),
		enqueued:    make(map[string]int),
		interrupted: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect opens the speaker. It must be called before Add16BitPCM.
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.speaker == nil {
		return fmt.Errorf("%w: no speaker configured", ErrDeviceUnavailable)
	}
	// the speaker may start pulling from Stream right away, so no lock here
	if err := p.speaker.Open(ctx, p.sampleRate, p); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.logger.Debug("player connected", slog.Int("sample_rate", p.sampleRate))
	return nil
}

func (p *Player) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Add16BitPCM appends PCM16 mono bytes to the given track. Chunks for a track
// that was interrupted are dropped.
func (p *Player) Add16BitPCM(pcm []byte, trackID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return fmt.Errorf("%w: player not connected", ErrInvalidState)
	}
	if _, ok := p.interrupted[trackID]; ok {
		return nil
	}
	samples := PCM16ToSamples(pcm)
	if len(samples) == 0 {
		return nil
	}
	p.queue = append(p.queue, chunk{trackID: trackID, samples: samples})
	p.enqueued[trackID] += len(samples)
	return nil
}

// Stream implements Streamer. It never runs dry: missing samples are
// rendered as silence.
func (p *Player) Stream(samples [][2]float64) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rendered := p.last[:0]
	for i := range samples {
		if len(p.queue) == 0 {
			samples[i] = [2]float64{}
			continue
		}
		c := &p.queue[0]
		v := float64(c.samples[p.pos]) / 32768.0
		samples[i] = [2]float64{v, v}
		rendered = append(rendered, v)
		p.played[c.trackID]++
		p.pos++
		if p.pos >= len(c.samples) {
			p.queue = p.queue[1:]
			p.pos = 0
		}
	}
	p.last = rendered
	return len(samples), true
}

func (p *Player) Err() error { return nil }

// Playing reports whether queued samples remain.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) > 0
}

// Offset returns the current track and offset without stopping playback.
func (p *Player) Offset() (TrackOffset, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentOffset()
}

func (p *Player) currentOffset() (TrackOffset, bool) {
	if len(p.queue) == 0 {
		return TrackOffset{}, false
	}
	id := p.queue[0].trackID
	return TrackOffset{TrackID: id, Offset: p.played[id]}, true
}

// Enqueued returns the total number of samples queued for a track so far.
func (p *Player) Enqueued(trackID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enqueued[trackID]
}

// Interrupt stops playback immediately. It returns the track that was playing
// and the sample offset reached, or false when nothing was playing, in which
// case the player is left untouched.
func (p *Player) Interrupt() (TrackOffset, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	off, ok := p.currentOffset()
	if !ok {
		return TrackOffset{}, false
	}
	for _, c := range p.queue {
		p.interrupted[c.trackID] = struct{}{}
	}
	p.queue = nil
	p.pos = 0
	p.last = p.last[:0]
	p.logger.Debug("playback interrupted", slog.String("track", off.TrackID), slog.Int("offset", off.Offset))
	return off, true
}

// Frequencies returns the spectrum of the buffer rendered last; all zero when
// nothing is playing.
func (p *Player) Frequencies() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 || len(p.last) == 0 {
		return make([]float64, VoiceRange.Bins)
	}
	return Frequencies(p.last, p.sampleRate, VoiceRange)
}

// Close releases the speaker and drops all track state.
func (p *Player) Close() error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	p.queue = nil
	p.pos = 0
	p.last = nil
	clear(p.played)
	clear(p.enqueued)
	clear(p.interrupted)
	p.mu.Unlock()

	if p.speaker == nil {
		return nil
	}
	return p.speaker.Close()
}
