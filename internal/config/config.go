package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration file.
type Config struct {
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Session  SessionConfig  `yaml:"session"`
	Audio    AudioConfig    `yaml:"audio"`
	Calendar CalendarConfig `yaml:"calendar"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	Voice  string `yaml:"voice"`
	URL    string `yaml:"url"` // realtime endpoint, model is appended as a query parameter
}

type SessionConfig struct {
	TurnDetection      string `yaml:"turn_detection"` // "server_vad" or "none"
	WebsiteFile        string `yaml:"website_file"`   // text embedded into the instructions
	TranscriptionModel string `yaml:"transcription_model"`
	OpeningMessage     string `yaml:"opening_message"`
}

type AudioConfig struct {
	DeviceSampleRate int           `yaml:"device_sample_rate"`
	FrameDuration    time.Duration `yaml:"frame_duration"`
	SpeakerBuffer    time.Duration `yaml:"speaker_buffer"`
}

type CalendarConfig struct {
	Endpoint   string `yaml:"endpoint"`
	CalendarID string `yaml:"calendar_id"`
	Token      string `yaml:"token"`
	TimeZone   string `yaml:"time_zone"` // IANA name, empty means local
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// Load reads a YAML file on top of the defaults, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default configuration with environment overrides.
func Default() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-realtime-preview-2025-06-03",
			Voice: "alloy",
			URL:   "wss://api.openai.com/v1/realtime",
		},
		Session: SessionConfig{
			TurnDetection:      "server_vad",
			TranscriptionModel: "whisper-1",
			OpeningMessage:     "Hello!",
		},
		Audio: AudioConfig{
			DeviceSampleRate: 24_000,
			FrameDuration:    200 * time.Millisecond,
			SpeakerBuffer:    100 * time.Millisecond,
		},
		Calendar: CalendarConfig{
			Endpoint:   "https://www.googleapis.com/calendar/v3/",
			CalendarID: "primary",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func applyEnv(cfg *Config) {
	for _, name := range []string{"OPENAI_API_KEY", "OPENAI_KEY"} {
		if v := os.Getenv(name); v != "" {
			cfg.OpenAI.APIKey = v
			break
		}
	}
	if v := os.Getenv("VOICEAGENT_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("VOICEAGENT_CALENDAR_TOKEN"); v != "" {
		cfg.Calendar.Token = v
	}
	if v := os.Getenv("TZ"); v != "" && cfg.Calendar.TimeZone == "" {
		cfg.Calendar.TimeZone = v
	}
}

// Validate checks values that would otherwise fail only once connected.
func (c *Config) Validate() error {
	var errs []error
	switch c.Session.TurnDetection {
	case "server_vad", "none":
	default:
		errs = append(errs, fmt.Errorf("session.turn_detection: must be server_vad or none, got %q", c.Session.TurnDetection))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("calendar.time_zone: %w", err))
	}
	if c.Audio.DeviceSampleRate <= 0 {
		errs = append(errs, errors.New("audio.device_sample_rate: must be positive"))
	}
	if c.Audio.FrameDuration <= 0 {
		errs = append(errs, errors.New("audio.frame_duration: must be positive"))
	}
	return errors.Join(errs...)
}

// Location resolves the calendar time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Calendar.TimeZone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Calendar.TimeZone)
}

// WebsiteContent returns the contents of the configured website file, or an
// empty string when none is set.
func (c *Config) WebsiteContent() (string, error) {
	if c.Session.WebsiteFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.Session.WebsiteFile)
	if err != nil {
		return "", fmt.Errorf("failed to read website file: %w", err)
	}
	return string(b), nil
}
