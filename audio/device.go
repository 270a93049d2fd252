package audio

import (
	"context"
	"errors"
)

var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrInvalidState      = errors.New("invalid state")
)

// Streamer is a pull source of stereo samples. It matches the beep streamer
// contract so device backends can hand it straight to a mixer.
type Streamer interface {
	Stream(samples [][2]float64) (n int, ok bool)
	Err() error
}

// InputStream is an opened capture device.
type InputStream interface {
	Streamer
	Start() error
	Stop() error
	Close() error
}

// Microphone opens capture devices.
type Microphone interface {
	Open(ctx context.Context, sampleRate int) (InputStream, error)
}

// Speaker renders a streamer until closed.
type Speaker interface {
	Open(ctx context.Context, sampleRate int, src Streamer) error
	Close() error
}
