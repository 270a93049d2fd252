package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewandler/voiceagent-go"
	"github.com/codewandler/voiceagent-go/conversation"
	"github.com/codewandler/voiceagent-go/memory"
	"github.com/codewandler/voiceagent-go/metrics"
)

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("voiceagent")
	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, m, logger)
	}

	release, err := initDevices()
	if err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer release()

	session, err := newSession(cfg, logger, m,
		voiceagent.WithMicrophone(micDevice{}),
		voiceagent.WithSpeaker(&speakerDevice{buffer: cfg.Audio.SpeakerBuffer}),
	)
	if err != nil {
		return err
	}

	c := newConsole(session, cmd.OutOrStdout())
	session.OnEvent(c.onEvent)

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := session.Disconnect(shutdown); err != nil {
			logger.Warn("disconnect", slog.Any("err", err))
		}
	}()

	c.printf("connected (%s), type /quit to exit\n", session.TurnDetection())
	return c.run(ctx, cmd.InOrStdin())
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logger.Info("serving metrics", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", slog.Any("err", err))
	}
}

// agent is the part of the session the console drives.
type agent interface {
	Connect(ctx context.Context) error
	Reset(ctx context.Context) error
	SendUserMessage(text string) error
	StartTurn() error
	EndTurn() error
	SetTurnDetection(ctx context.Context, mode voiceagent.TurnDetection) error
	Items() []conversation.Item
	DeleteItem(id string) bool
	Memory() *memory.Store
}

// console prints the transcript and runs stdin commands.
type console struct {
	agent agent
	mu    sync.Mutex
	out   io.Writer
}

func newConsole(a agent, out io.Writer) *console {
	return &console{agent: a, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) onEvent(e voiceagent.Event) {
	switch e.Kind {
	case voiceagent.EventItemCompleted:
		if e.Item.Role == conversation.RoleAssistant && e.Item.Type == conversation.TypeMessage {
			c.printf("agent> %s\n", itemText(e.Item))
		}
	case voiceagent.EventItemUpdated:
		if e.Item.Role == conversation.RoleUser && e.Delta != nil && strings.TrimSpace(e.Delta.Transcript) != "" {
			c.printf("you> %s\n", e.Delta.Transcript)
		}
	case voiceagent.EventError:
		c.printf("error: %v\n", e.Err)
	case voiceagent.EventDisconnected:
		c.printf("disconnected\n")
	}
}

func itemText(item conversation.Item) string {
	if item.Formatted.Transcript != "" {
		return item.Formatted.Transcript
	}
	if item.Formatted.Text != "" {
		return item.Formatted.Text
	}
	if item.Formatted.Tool != nil {
		return fmt.Sprintf("%s(%s)", item.Formatted.Tool.Name, item.Formatted.Tool.Arguments)
	}
	return item.Formatted.Output
}

// run reads commands until /quit, end of input or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.exec(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// exec runs one input line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")

	var err error
	switch cmd {
	case "/quit":
		return true
	case "/talk":
		err = c.agent.StartTurn()
	case "/send":
		err = c.agent.EndTurn()
	case "/vad":
		err = c.agent.SetTurnDetection(ctx, voiceagent.TurnDetectionServerVAD)
	case "/manual":
		err = c.agent.SetTurnDetection(ctx, voiceagent.TurnDetectionNone)
	case "/items":
		for _, item := range c.agent.Items() {
			c.printf("%s %s %s %s %q\n", item.ID, item.Role, item.Type, item.Status, itemText(item))
		}
	case "/delete":
		if !c.agent.DeleteItem(strings.TrimSpace(arg)) {
			err = fmt.Errorf("no item %q", arg)
		}
	case "/memory":
		all := c.agent.Memory().All()
		for _, k := range slices.Sorted(maps.Keys(all)) {
			c.printf("%s = %s\n", k, all[k])
		}
	case "/reset":
		if err = c.agent.Reset(ctx); err == nil {
			err = c.agent.Connect(ctx)
		}
	default:
		if strings.HasPrefix(cmd, "/") {
			err = fmt.Errorf("unknown command %s", cmd)
		} else {
			err = c.agent.SendUserMessage(line)
		}
	}
	if err != nil {
		c.printf("error: %v\n", err)
	}
	return false
}
