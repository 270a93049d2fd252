package main

import (
	"context"
	"sync"
	"time"

	"github.com/MarkKremer/microphone/v2"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/codewandler/voiceagent-go/audio"
)

// micDevice opens the default input device through portaudio.
type micDevice struct{}

func (micDevice) Open(_ context.Context, sampleRate int) (audio.InputStream, error) {
	s, _, err := microphone.OpenDefaultStream(beep.SampleRate(sampleRate), 1)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// speakerDevice plays through the global beep speaker. The speaker can only
// be initialized once per process, so Close just clears the mixer.
type speakerDevice struct {
	buffer time.Duration
	once   sync.Once
	err    error
}

func (d *speakerDevice) Open(_ context.Context, sampleRate int, src audio.Streamer) error {
	d.once.Do(func() {
		sr := beep.SampleRate(sampleRate)
		d.err = speaker.Init(sr, sr.N(d.buffer))
	})
	if d.err != nil {
		return d.err
	}
	speaker.Play(src)
	return nil
}

func (d *speakerDevice) Close() error {
	speaker.Clear()
	return nil
}

func initDevices() (func(), error) {
	if err := microphone.Init(); err != nil {
		return nil, err
	}
	return func() {
		speaker.Close()
		_ = microphone.Terminate()
	}, nil
}
