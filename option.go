package voiceagent

import (
	"log/slog"
	"os"
	"time"

	"github.com/codewandler/voiceagent-go/audio"
	"github.com/codewandler/voiceagent-go/memory"
	"github.com/codewandler/voiceagent-go/metrics"
	"github.com/codewandler/voiceagent-go/tool"
)

const (
	ApiKeyEnvVarNameShort = "OPENAI_KEY"
	ApiKeyEnvVarNameLong  = "OPENAI_API_KEY"

	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2025-06-03"
)

type sessionConfig struct {
	url                string
	model              string
	apiKey             string
	instruction        string
	websiteContent     string
	voice              string
	transcriptionModel string
	turnDetection      TurnDetection
	temperature        float64
	speed              float64
	openingMessage     string
	deviceSampleRate   int
	latencyMS          int
	handshakeTimeout   time.Duration
	logger             *slog.Logger
	metrics            *metrics.Metrics
	memory             *memory.Store
	tools              []tool.Tool
	mic                audio.Microphone
	speaker            audio.Speaker
	dial               dialFunc
}

func (c *sessionConfig) latency() time.Duration {
	return time.Duration(c.latencyMS) * time.Millisecond
}

// instructions returns the explicit instruction, or the default prompt with
// the website content embedded.
func (c *sessionConfig) instructions() string {
	if c.instruction != "" {
		return c.instruction
	}
	return Instructions(c.websiteContent, time.Now())
}

type Option func(*sessionConfig)

func WithTools(tools ...tool.Tool) Option {
	return func(config *sessionConfig) {
		config.tools = append(config.tools, tools...)
	}
}

func WithVoice(voice string) Option {
	return func(config *sessionConfig) {
		config.voice = voice
	}
}

func WithSpeed(speed float64) Option {
	return func(config *sessionConfig) {
		config.speed = speed
	}
}

// WithDeviceSampleRate sets the rate the microphone is opened at. Audio is
// resampled to 24 kHz before it is sent.
func WithDeviceSampleRate(sr int) Option {
	return func(config *sessionConfig) {
		config.deviceSampleRate = sr
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *sessionConfig) {
		o.logger = logger
	}
}

func WithDefaultLogger() Option {
	return WithLogger(slog.Default())
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *sessionConfig) {
		o.metrics = m
	}
}

// WithMemory shares a memory store with the session, typically the one the
// set_memory tool writes to.
func WithMemory(store *memory.Store) Option {
	return func(o *sessionConfig) {
		o.memory = store
	}
}

func WithTemperature(temperature float64) Option {
	return func(o *sessionConfig) {
		o.temperature = temperature
	}
}

func WithModel(model string) Option {
	return func(o *sessionConfig) {
		o.model = model
	}
}

// WithURL sets the realtime endpoint; the model is added as a query parameter.
func WithURL(url string) Option {
	return func(o *sessionConfig) {
		o.url = url
	}
}

func WithKey(apiKey string) Option {
	return func(o *sessionConfig) {
		o.apiKey = apiKey
	}
}

func WithEnvKey(vars ...string) Option {
	return func(o *sessionConfig) {
		for _, envVarName := range vars {
			if k := os.Getenv(envVarName); k != "" {
				o.apiKey = k
				return
			}
		}
	}
}

func WithOptions(opts ...Option) Option {
	return func(o *sessionConfig) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

func withDefaults() Option {
	return WithOptions(
		WithLogger(slog.New(slog.DiscardHandler)),
		WithURL(DefaultURL),
		WithModel(DefaultModel),
		WithVoice("alloy"),
		WithTranscriptionModel("whisper-1"),
		WithTurnDetection(TurnDetectionServerVAD),
		WithTemperature(0.8),
		WithOpeningMessage("Hello!"),
		WithDeviceSampleRate(audio.SampleRate),
		WithLatency(200),
		WithEnvKey(ApiKeyEnvVarNameShort, ApiKeyEnvVarNameLong),
		withHandshakeTimeout(10*time.Second),
	)
}

// WithInstruction replaces the default prompt entirely.
func WithInstruction(instruction string) Option {
	return func(o *sessionConfig) {
		o.instruction = instruction
	}
}

// WithWebsiteContent sets the website text embedded into the default prompt.
func WithWebsiteContent(content string) Option {
	return func(o *sessionConfig) {
		o.websiteContent = content
	}
}

func WithTranscriptionModel(model string) Option {
	return func(o *sessionConfig) {
		o.transcriptionModel = model
	}
}

func WithTurnDetection(mode TurnDetection) Option {
	return func(o *sessionConfig) {
		o.turnDetection = mode
	}
}

// WithOpeningMessage sets the user message sent right after connecting. An
// empty message disables it.
func WithOpeningMessage(text string) Option {
	return func(o *sessionConfig) {
		o.openingMessage = text
	}
}

func WithMicrophone(mic audio.Microphone) Option {
	return func(o *sessionConfig) {
		o.mic = mic
	}
}

func WithSpeaker(speaker audio.Speaker) Option {
	return func(o *sessionConfig) {
		o.speaker = speaker
	}
}

// WithLatency sets the capture frame duration in milliseconds.
func WithLatency(latencyMS int) Option {
	return func(o *sessionConfig) {
		o.latencyMS = latencyMS
	}
}

func withHandshakeTimeout(d time.Duration) Option {
	return func(o *sessionConfig) {
		o.handshakeTimeout = d
	}
}

func withDialer(d dialFunc) Option {
	return func(o *sessionConfig) {
		o.dial = d
	}
}
