package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMic struct {
	openErr error
	stream  *fakeStream
	rate    int
}

func (m *fakeMic) Open(_ context.Context, sampleRate int) (InputStream, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.rate = sampleRate
	return m.stream, nil
}

// fakeStream yields limit samples of a constant value, then either idles or
// reports end of stream.
type fakeStream struct {
	mu      sync.Mutex
	limit   int
	sent    int
	finite  bool
	starts  int
	stops   int
	closed  bool
	started bool
}

func (s *fakeStream) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	left := s.limit - s.sent
	finite := s.finite
	s.mu.Unlock()

	if left <= 0 {
		if finite {
			return 0, false
		}
		time.Sleep(time.Millisecond)
		return 0, true
	}
	n := min(left, len(samples))
	for i := range n {
		samples[i] = [2]float64{0.25, 0.25}
	}
	s.mu.Lock()
	s.sent += n
	s.mu.Unlock()
	return n, true
}

func (s *fakeStream) Err() error { return nil }

func (s *fakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.started = true
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.started = false
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type frameSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (f *frameSink) add(fr Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
}

func (f *frameSink) snapshot() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Frame(nil), f.frames...)
}

func TestRecorder_StateMachine(t *testing.T) {
	stream := &fakeStream{}
	r := NewRecorder(&fakeMic{stream: stream})
	ctx := context.Background()
	noop := func(Frame) {}

	assert.Equal(t, StatusEnded, r.Status())
	require.ErrorIs(t, r.Record(noop), ErrInvalidState)

	require.NoError(t, r.Begin(ctx))
	assert.Equal(t, StatusReady, r.Status())
	require.ErrorIs(t, r.Begin(ctx), ErrInvalidState)
	require.ErrorIs(t, r.Pause(), ErrInvalidState)

	require.NoError(t, r.Record(noop))
	assert.Equal(t, StatusRecording, r.Status())
	require.ErrorIs(t, r.Record(noop), ErrInvalidState)

	require.NoError(t, r.Pause())
	assert.Equal(t, StatusPaused, r.Status())
	require.NoError(t, r.Record(noop))

	require.NoError(t, r.End())
	assert.Equal(t, StatusEnded, r.Status())
	require.NoError(t, r.End())

	assert.Equal(t, 2, stream.starts)
	assert.Equal(t, 2, stream.stops)
	assert.True(t, stream.closed)
}

func TestRecorder_BeginDeviceError(t *testing.T) {
	r := NewRecorder(&fakeMic{openErr: errors.New("denied")})
	require.ErrorIs(t, r.Begin(context.Background()), ErrDeviceUnavailable)
	assert.Equal(t, StatusEnded, r.Status())

	require.ErrorIs(t, NewRecorder(nil).Begin(context.Background()), ErrDeviceUnavailable)
}

func TestRecorder_DeliversFixedFrames(t *testing.T) {
	stream := &fakeStream{limit: 2400}
	r := NewRecorder(&fakeMic{stream: stream}, WithFrameDuration(10*time.Millisecond))
	require.NoError(t, r.Begin(context.Background()))

	sink := &frameSink{}
	require.NoError(t, r.Record(sink.add))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 10
	}, 2*time.Second, 5*time.Millisecond)

	f := r.Frequencies()
	assert.Len(t, f, VoiceRange.Bins)

	require.NoError(t, r.Pause())
	frames := sink.snapshot()
	require.Len(t, frames, 10)
	for _, fr := range frames {
		require.Len(t, fr.PCM, 480)
		assert.Equal(t, int16(8191), fr.Samples()[0])
	}
	require.NoError(t, r.End())
}

func TestRecorder_FlushesPartialFrameAtEndOfStream(t *testing.T) {
	stream := &fakeStream{limit: 300, finite: true}
	r := NewRecorder(&fakeMic{stream: stream}, WithFrameDuration(10*time.Millisecond))
	require.NoError(t, r.Begin(context.Background()))

	sink := &frameSink{}
	require.NoError(t, r.Record(sink.add))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	frames := sink.snapshot()
	assert.Len(t, frames[0].PCM, 480)
	assert.Len(t, frames[1].PCM, 120)
	require.NoError(t, r.End())
}

func TestRecorder_ResamplesDeviceRate(t *testing.T) {
	stream := &fakeStream{limit: 4800}
	mic := &fakeMic{stream: stream}
	r := NewRecorder(mic, WithDeviceSampleRate(48000), WithFrameDuration(10*time.Millisecond))
	require.NoError(t, r.Begin(context.Background()))
	assert.Equal(t, 48000, mic.rate)

	sink := &frameSink{}
	require.NoError(t, r.Record(sink.add))
	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 8
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, r.End())

	for _, fr := range sink.snapshot() {
		assert.LessOrEqual(t, len(fr.PCM), 480)
	}
}
