package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpeaker struct {
	src     Streamer
	rate    int
	openErr error
	closed  bool
}

func (s *fakeSpeaker) Open(_ context.Context, sampleRate int, src Streamer) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.src = src
	s.rate = sampleRate
	return nil
}

func (s *fakeSpeaker) Close() error {
	s.closed = true
	return nil
}

func constPCM(n int, v int16) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return SamplesToPCM16(samples)
}

func render(p *Player, n int) [][2]float64 {
	buf := make([][2]float64, n)
	got, ok := p.Stream(buf)
	if got != n || !ok {
		panic("player must always fill the buffer")
	}
	return buf
}

func TestPlayer_RequiresConnect(t *testing.T) {
	p := NewPlayer(&fakeSpeaker{})
	err := p.Add16BitPCM(constPCM(10, 1), "a")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPlayer_ConnectError(t *testing.T) {
	p := NewPlayer(&fakeSpeaker{openErr: errors.New("no device")})
	err := p.Connect(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.False(t, p.Connected())

	err = NewPlayer(nil).Connect(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestPlayer_PlaysTrackThenSilence(t *testing.T) {
	spk := &fakeSpeaker{}
	p := NewPlayer(spk)
	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, SampleRate, spk.rate)
	assert.Same(t, p, spk.src)

	require.NoError(t, p.Add16BitPCM(constPCM(30, 16384), "a"))
	require.NoError(t, p.Add16BitPCM(constPCM(30, 16384), "a"))
	assert.Equal(t, 60, p.Enqueued("a"))
	assert.True(t, p.Playing())

	out := render(p, 40)
	for _, s := range out {
		assert.InDelta(t, 0.5, s[0], 1e-9)
		assert.Equal(t, s[0], s[1])
	}
	off, ok := p.Offset()
	require.True(t, ok)
	assert.Equal(t, TrackOffset{TrackID: "a", Offset: 40}, off)

	out = render(p, 40)
	assert.InDelta(t, 0.5, out[19][0], 1e-9)
	assert.Zero(t, out[20][0])
	assert.False(t, p.Playing())
}

func TestPlayer_Interrupt(t *testing.T) {
	p := NewPlayer(&fakeSpeaker{})
	require.NoError(t, p.Connect(context.Background()))

	_, ok := p.Interrupt()
	assert.False(t, ok, "nothing playing")

	require.NoError(t, p.Add16BitPCM(constPCM(100, 1000), "a"))
	render(p, 25)

	off, ok := p.Interrupt()
	require.True(t, ok)
	assert.Equal(t, TrackOffset{TrackID: "a", Offset: 25}, off)
	assert.Less(t, off.Offset, p.Enqueued("a"))
	assert.False(t, p.Playing())

	// late chunks of an interrupted track are dropped
	require.NoError(t, p.Add16BitPCM(constPCM(100, 1000), "a"))
	assert.False(t, p.Playing())
	assert.Zero(t, render(p, 10)[0][0])

	require.NoError(t, p.Add16BitPCM(constPCM(5, 16384), "b"))
	out := render(p, 10)
	assert.InDelta(t, 0.5, out[4][0], 1e-9)
	assert.Zero(t, out[5][0])
}

func TestPlayer_FrequenciesAndClose(t *testing.T) {
	spk := &fakeSpeaker{}
	p := NewPlayer(spk)
	require.NoError(t, p.Connect(context.Background()))

	idle := p.Frequencies()
	require.Len(t, idle, VoiceRange.Bins)
	for _, v := range idle {
		assert.Zero(t, v)
	}

	require.NoError(t, p.Close())
	assert.True(t, spk.closed)
	assert.False(t, p.Connected())
	require.ErrorIs(t, p.Add16BitPCM(constPCM(1, 1), "a"), ErrInvalidState)
}
