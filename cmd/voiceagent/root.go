package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codewandler/voiceagent-go"
	"github.com/codewandler/voiceagent-go/builtin"
	"github.com/codewandler/voiceagent-go/calendar"
	"github.com/codewandler/voiceagent-go/internal/config"
	"github.com/codewandler/voiceagent-go/internal/logging"
	"github.com/codewandler/voiceagent-go/memory"
	"github.com/codewandler/voiceagent-go/metrics"
)

var (
	configPath    string
	websiteFile   string
	voice         string
	model         string
	turnDetection string
	calendarToken string
	timeZone      string
	metricsAddr   string
	debug         bool
	logFormat     string
	version       string = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "voiceagent",
	Short: "Talk to a realtime voice agent from the terminal",
	Long: `Runs a voice conversation with the OpenAI realtime API using the default
microphone and speaker. The agent qualifies leads for the product described
in --website-file and manages a Google calendar on the user's behalf.

Type a line to send it as a text message. Commands:
  /talk            start a push to talk turn (manual mode)
  /send            end the turn and ask for a response
  /vad             let the server detect turns
  /manual          switch to push to talk
  /items           list conversation items
  /delete <id>     delete an item
  /memory          show what the agent remembered
  /reset           start over with an empty conversation
  /quit            exit`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSession,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringVar(&websiteFile, "website-file", "", "Text file with the website content the agent sells")
	flags.StringVar(&voice, "voice", "", "Assistant voice")
	flags.StringVar(&model, "model", "", "Realtime model")
	flags.StringVar(&turnDetection, "turn-detection", "", "Turn detection: server_vad or none")
	flags.StringVar(&calendarToken, "calendar-token", "", "Google calendar access token")
	flags.StringVar(&timeZone, "timezone", "", "IANA time zone for calendar dates")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringVar(&logFormat, "log-format", "", "Log format: text or json")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(toolsCmd)
}

// loadConfig reads the config file, if any, and applies the flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("website-file", &cfg.Session.WebsiteFile, websiteFile)
	set("voice", &cfg.OpenAI.Voice, voice)
	set("model", &cfg.OpenAI.Model, model)
	set("turn-detection", &cfg.Session.TurnDetection, turnDetection)
	set("calendar-token", &cfg.Calendar.Token, calendarToken)
	set("timezone", &cfg.Calendar.TimeZone, timeZone)
	set("metrics-addr", &cfg.Metrics.Addr, metricsAddr)
	set("log-format", &cfg.Logging.Format, logFormat)
	if debug {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
}

// newSession builds a session with the builtin tools. Devices may be nil
// when the session is never connected.
func newSession(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, opts ...voiceagent.Option) (*voiceagent.Session, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	website, err := cfg.WebsiteContent()
	if err != nil {
		return nil, err
	}

	store := memory.New()
	cal := calendar.New(
		calendar.WithEndpoint(cfg.Calendar.Endpoint),
		calendar.WithCalendarID(cfg.Calendar.CalendarID),
		calendar.WithToken(cfg.Calendar.Token),
		calendar.WithLocation(loc),
		calendar.WithLogger(logger),
	)

	base := []voiceagent.Option{
		voiceagent.WithLogger(logger),
		voiceagent.WithMetrics(m),
		voiceagent.WithMemory(store),
		voiceagent.WithURL(cfg.OpenAI.URL),
		voiceagent.WithModel(cfg.OpenAI.Model),
		voiceagent.WithVoice(cfg.OpenAI.Voice),
		voiceagent.WithTurnDetection(voiceagent.TurnDetection(cfg.Session.TurnDetection)),
		voiceagent.WithTranscriptionModel(cfg.Session.TranscriptionModel),
		voiceagent.WithOpeningMessage(cfg.Session.OpeningMessage),
		voiceagent.WithWebsiteContent(website),
		voiceagent.WithDeviceSampleRate(cfg.Audio.DeviceSampleRate),
		voiceagent.WithLatency(int(cfg.Audio.FrameDuration.Milliseconds())),
		voiceagent.WithTools(builtin.All(store, cal, logger)...),
	}
	if cfg.OpenAI.APIKey != "" {
		base = append(base, voiceagent.WithKey(cfg.OpenAI.APIKey))
	}
	return voiceagent.New(append(base, opts...)...), nil
}
