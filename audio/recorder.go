package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

type Status string

const (
	StatusEnded     Status = "ended"
	StatusReady     Status = "ready"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
)

// Frame is one fixed-duration chunk of captured PCM16 mono audio.
type Frame struct {
	PCM []byte
}

func (f Frame) Samples() []int16 { return PCM16ToSamples(f.PCM) }

const captureFrames = 1024

// Recorder captures microphone audio and delivers it as PCM16 mono frames at
// SampleRate. Status moves ended -> ready -> recording <-> paused -> ended.
type Recorder struct {
	op sync.Mutex // serializes Begin, Record, Pause and End

	mu            sync.Mutex
	mic           Microphone
	sampleRate    int
	deviceRate    int
	frameDuration time.Duration
	logger        *slog.Logger
	stream        InputStream
	status        Status
	stop          chan struct{}
	wg            sync.WaitGroup
	last          []float64
}

type RecorderOption func(*Recorder)

func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithDeviceSampleRate sets the rate the microphone is opened at. Captured
// audio is resampled to SampleRate when it differs.
func WithDeviceSampleRate(sr int) RecorderOption {
	return func(r *Recorder) {
		r.deviceRate = sr
	}
}

func WithFrameDuration(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.frameDuration = d
	}
}

func NewRecorder(mic Microphone, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		mic:           mic,
		sampleRate:    SampleRate,
		deviceRate:    SampleRate,
		frameDuration: 200 * time.Millisecond,
		logger:        slog.New(slog.DiscardHandler),
		status:        StatusEnded,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Begin acquires the microphone.
func (r *Recorder) Begin(ctx context.Context) error {
	r.op.Lock()
	defer r.op.Unlock()

	if s := r.Status(); s != StatusEnded {
		return fmt.Errorf("%w: recorder already started (%s)", ErrInvalidState, s)
	}
	if r.mic == nil {
		return fmt.Errorf("%w: no microphone configured", ErrDeviceUnavailable)
	}
	stream, err := r.mic.Open(ctx, r.deviceRate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.mu.Lock()
	r.stream = stream
	r.status = StatusReady
	r.mu.Unlock()
	r.logger.Debug("microphone acquired", slog.Int("sample_rate", r.deviceRate))
	return nil
}

// Record starts delivering frames to onFrame. onFrame runs on a single
// goroutine, in capture order, and must not call Pause or End.
func (r *Recorder) Record(onFrame func(Frame)) error {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case StatusEnded:
		return fmt.Errorf("%w: call Begin before Record", ErrInvalidState)
	case StatusRecording:
		return fmt.Errorf("%w: already recording", ErrInvalidState)
	}

	if err := r.stream.Start(); err != nil {
		return fmt.Errorf("%w: start: %v", ErrDeviceUnavailable, err)
	}

	frameSize := FrameSize(r.sampleRate, r.frameDuration, BytesPerSample, 1)
	rb := ringbuffer.New(frameSize * 4).SetBlocking(true)
	stop := make(chan struct{})

	r.stop = stop
	r.status = StatusRecording
	r.wg.Add(2)
	go r.capture(r.stream, rb, stop)
	go r.emit(rb, onFrame)
	return nil
}

func (r *Recorder) capture(stream InputStream, rb *ringbuffer.RingBuffer, stop <-chan struct{}) {
	defer r.wg.Done()

	buf := make([][2]float64, captureFrames)
	for {
		select {
		case <-stop:
			rb.CloseWriter()
			return
		default:
		}

		n, ok := stream.Stream(buf)
		if n > 0 {
			pcm := stereoSamplesToPCM16Mono(buf[:n])
			if r.deviceRate != r.sampleRate {
				var err error
				if pcm, err = ResamplePCM(pcm, r.deviceRate, r.sampleRate); err != nil {
					rb.CloseWithError(err)
					return
				}
			}
			if _, err := rb.Write(pcm); err != nil {
				r.logger.Warn("capture buffer closed", slog.Any("err", err))
				return
			}
		}
		if !ok {
			if err := stream.Err(); err != nil {
				rb.CloseWithError(err)
			} else {
				rb.CloseWriter()
			}
			return
		}
	}
}

func (r *Recorder) emit(rb *ringbuffer.RingBuffer, onFrame func(Frame)) {
	defer r.wg.Done()

	fr := NewPCMFrameReader(rb, r.sampleRate, r.frameDuration)
	buf := make([]byte, fr.FrameSize())
	for {
		n, err := fr.Read(buf)
		if n > 0 {
			pcm := make([]byte, n)
			copy(pcm, buf[:n])

			r.mu.Lock()
			r.last = PCM16ToFloats(pcm)
			r.mu.Unlock()

			onFrame(Frame{PCM: pcm})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Error("capture failed", slog.Any("err", err))
			}
			return
		}
	}
}

// halt stops a running recording and waits for both goroutines to finish.
// Must be called with r.op held.
func (r *Recorder) halt() error {
	r.mu.Lock()
	if r.status != StatusRecording {
		r.mu.Unlock()
		return nil
	}
	close(r.stop)
	stream := r.stream
	r.mu.Unlock()

	r.wg.Wait()
	return stream.Stop()
}

// Pause stops capture but keeps the microphone open, so Record can resume.
func (r *Recorder) Pause() error {
	r.op.Lock()
	defer r.op.Unlock()

	if s := r.Status(); s != StatusRecording {
		return fmt.Errorf("%w: not recording (%s)", ErrInvalidState, s)
	}
	err := r.halt()

	r.mu.Lock()
	r.status = StatusPaused
	r.last = nil
	r.mu.Unlock()
	return err
}

// End releases the microphone. Calling End on an ended recorder is a no-op.
func (r *Recorder) End() error {
	r.op.Lock()
	defer r.op.Unlock()

	if r.Status() == StatusEnded {
		return nil
	}
	err := r.halt()

	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.status = StatusEnded
	r.last = nil
	r.mu.Unlock()

	return errors.Join(err, stream.Close())
}

// Frequencies returns the spectrum of the most recent frame; all zero when
// not recording.
func (r *Recorder) Frequencies() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusRecording || len(r.last) == 0 {
		return make([]float64, VoiceRange.Bins)
	}
	return Frequencies(r.last, r.sampleRate, VoiceRange)
}
