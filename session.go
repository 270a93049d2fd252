// Package voiceagent runs a realtime voice conversation: it streams the
// microphone to the OpenAI realtime API, plays the assistant's audio back,
// keeps the conversation items and dispatches the model's tool calls.
package voiceagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/voiceagent-go/audio"
	"github.com/codewandler/voiceagent-go/conversation"
	"github.com/codewandler/voiceagent-go/events"
	"github.com/codewandler/voiceagent-go/internal/websocket"
	"github.com/codewandler/voiceagent-go/memory"
	"github.com/codewandler/voiceagent-go/metrics"
	"github.com/codewandler/voiceagent-go/tool"
)

// conn is the part of the websocket client the session uses.
type conn interface {
	WriteText(data []byte) error
	Close(ctx context.Context) error
	Done() <-chan struct{}
}

type dialFunc func(ctx context.Context, addr string, headers http.Header, onText func([]byte) error) (conn, error)

func dialWebsocket(logger *slog.Logger) dialFunc {
	return func(ctx context.Context, addr string, headers http.Header, onText func([]byte) error) (conn, error) {
		c, err := websocket.Connect(ctx, websocket.ClientConfig{
			URL:     addr,
			Headers: headers,
			OnText:  onText,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

type Session struct {
	config   *sessionConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tools    *tool.Registry
	conv     *conversation.Conversation
	memory   *memory.Store
	recorder *audio.Recorder
	player   *audio.Player

	op sync.Mutex // serializes Connect, Disconnect, Reset and SetTurnDetection

	mu            sync.RWMutex
	state         State
	apiKey        string
	turnDetection TurnDetection
	conn          conn
	gen           int // bumped on every teardown so a stale watcher is a no-op
	connCtx       context.Context
	cancel        context.CancelFunc
	handshake     chan string
	abortConnect  context.CancelFunc // set while Connect is in flight
	inputAudio    []byte             // recent input audio, see trimInputAudio
	inputOffset   int                // position of inputAudio[0] in the session's input
	turnAudio     []byte             // push to talk audio appended since the last commit
	handlers      []func(Event)
	onError       func(*events.ErrorEvent)

	toolCalls sync.WaitGroup
}

func New(opts ...Option) *Session {
	config := &sessionConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	logger := config.logger
	if config.dial == nil {
		config.dial = dialWebsocket(logger)
	}
	store := config.memory
	if store == nil {
		store = memory.New()
	}

	s := &Session{
		config:  config,
		logger:  logger,
		metrics: config.metrics,
		tools:   tool.NewRegistry(logger),
		conv:    conversation.New(audio.SampleRate),
		memory:  store,
		recorder: audio.NewRecorder(config.mic,
			audio.WithRecorderLogger(logger),
			audio.WithDeviceSampleRate(config.deviceSampleRate),
			audio.WithFrameDuration(config.latency()),
		),
		player:        audio.NewPlayer(config.speaker, audio.WithPlayerLogger(logger)),
		state:         StateDisconnected,
		apiKey:        config.apiKey,
		turnDetection: config.turnDetection,
	}
	for _, t := range config.tools {
		if err := s.tools.Add(t); err != nil {
			logger.Error("failed to register tool", slog.Any("err", err))
		}
	}
	return s
}

// OnEvent registers a handler for host notifications. Handlers run on the
// goroutine that processes server events and must not call Disconnect or
// Reset synchronously.
func (s *Session) OnEvent(h func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Session) OnError(h func(e *events.ErrorEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = h
}

func (s *Session) emit(e Event) {
	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

// AddTool registers a tool. Tools can only be added while disconnected and
// stay registered across Reset.
func (s *Session) AddTool(t tool.Tool) error {
	if st := s.State(); st != StateDisconnected {
		return fmt.Errorf("%w: cannot add tools while %s", ErrInvalidState, st)
	}
	return s.tools.Add(t)
}

func (s *Session) Tools() []tool.Definition {
	return s.tools.Definitions()
}

// SetAPIKey replaces the credential used by the next Connect.
func (s *Session) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = key
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

func (s *Session) TurnDetection() TurnDetection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turnDetection
}

func (s *Session) Items() []conversation.Item {
	return s.conv.Items()
}

func (s *Session) Memory() *memory.Store {
	return s.memory
}

func (s *Session) RecorderFrequencies() []float64 {
	return s.recorder.Frequencies()
}

func (s *Session) PlayerFrequencies() []float64 {
	return s.player.Frequencies()
}

// Connect opens the devices and the realtime session. On any failure the
// session is left disconnected with its devices released.
func (s *Session) Connect(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrInvalidState, st)
	}
	if s.apiKey == "" {
		s.mu.Unlock()
		return errors.New("missing api key")
	}
	ctx, abort := context.WithCancel(ctx)
	defer abort()
	s.state = StateConnecting
	s.abortConnect = abort
	s.resetInputAudio()
	s.mu.Unlock()
	s.conv.DropQueuedInput()

	defer func() {
		s.mu.Lock()
		s.abortConnect = nil
		s.mu.Unlock()
	}()

	if err := s.connect(ctx); err != nil {
		if terr := s.teardown(context.Background()); terr != nil {
			s.logger.Warn("rollback after failed connect", slog.Any("err", terr))
		}
		return err
	}
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	if err := s.recorder.Begin(ctx); err != nil {
		return fmt.Errorf("begin recording: %w", err)
	}
	if err := s.player.Connect(ctx); err != nil {
		return fmt.Errorf("connect player: %w", err)
	}

	s.mu.RLock()
	apiKey := s.apiKey
	s.mu.RUnlock()

	headers := http.Header{}
	headers.Add("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	headers.Add("OpenAI-Beta", "realtime=v1")

	handshake := make(chan string, 4)
	s.mu.Lock()
	s.handshake = handshake
	s.mu.Unlock()

	u := fmt.Sprintf("%s?model=%s", s.config.url, url.QueryEscape(s.config.model))
	c, err := s.config.dial(ctx, u, headers, s.handleMessage)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = c
	s.connCtx = connCtx
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.await(ctx, c, events.TypeSessionCreated); err != nil {
		return err
	}
	if err := s.updateSession(ctx, c); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateConnected
	gen := s.gen
	mode := s.turnDetection
	s.mu.Unlock()

	go s.watch(c, gen)

	s.metrics.SetConnected(true)
	s.logger.Info("session connected", slog.String("model", s.config.model), slog.String("turn_detection", string(mode)))
	s.emit(Event{Kind: EventConnected})

	if msg := s.config.openingMessage; msg != "" {
		if err := s.SendUserMessage(msg); err != nil {
			return fmt.Errorf("send opening message: %w", err)
		}
	}
	if mode == TurnDetectionServerVAD {
		if err := s.recorder.Record(s.onFrame); err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
	}
	return nil
}

// await blocks until the server acknowledged with the given event type.
func (s *Session) await(ctx context.Context, c conn, want string) error {
	s.mu.RLock()
	ch := s.handshake
	s.mu.RUnlock()

	timer := time.NewTimer(s.config.handshakeTimeout)
	defer timer.Stop()
	for {
		select {
		case got := <-ch:
			if got == want {
				return nil
			}
		case <-c.Done():
			return fmt.Errorf("connection closed waiting for %s", want)
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", want, ctx.Err())
		case <-timer.C:
			return fmt.Errorf("timeout waiting for %s", want)
		}
	}
}

// signal forwards handshake events to await without ever blocking the reader.
func (s *Session) signal(eventType string) {
	s.mu.RLock()
	ch := s.handshake
	s.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- eventType:
	default:
	}
}

func (s *Session) sessionUpdate() events.SessionUpdate {
	defs := s.tools.Definitions()
	toolChoice := tool.ChoiceNone
	if len(defs) > 0 {
		toolChoice = tool.ChoiceAuto
	}

	var td *events.TurnDetection
	if s.TurnDetection() == TurnDetectionServerVAD {
		td = &events.TurnDetection{
			Type:              string(TurnDetectionServerVAD),
			CreateResponse:    true,
			InterruptResponse: true,
		}
	}

	return events.SessionUpdate{
		TurnDetection:           td,
		InputAudioFormat:        events.AudioFormatPCM16,
		OutputAudioFormat:       events.AudioFormatPCM16,
		InputAudioTranscription: &events.InputAudioTranscription{Model: s.config.transcriptionModel},
		Modalities:              []string{"text", "audio"},
		Instructions:            s.config.instructions(),
		Voice:                   s.config.voice,
		Temperature:             s.config.temperature,
		Speed:                   s.config.speed,
		Tools:                   defs,
		ToolChoice:              toolChoice,
	}
}

// updateSession sends the complete configuration and waits for the server
// to apply it.
func (s *Session) updateSession(ctx context.Context, c conn) error {
	s.mu.RLock()
	ch := s.handshake
	s.mu.RUnlock()
	// drop acknowledgements nobody waited for
	for len(ch) > 0 {
		<-ch
	}

	if err := s.send(events.SessionUpdateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeSessionUpdate),
		Session:   s.sessionUpdate(),
	}); err != nil {
		return fmt.Errorf("send session update: %w", err)
	}
	return s.await(ctx, c, events.TypeSessionUpdated)
}

// SetTurnDetection switches between server VAD and push to talk. While
// connected the full configuration is resent; switching to none pauses the
// microphone, switching to server_vad resumes it.
func (s *Session) SetTurnDetection(ctx context.Context, mode TurnDetection) error {
	if !mode.valid() {
		return fmt.Errorf("unknown turn detection %q", mode)
	}

	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	s.turnDetection = mode
	st := s.state
	c := s.conn
	s.mu.Unlock()

	if st != StateConnected {
		return nil
	}
	if mode == TurnDetectionNone && s.recorder.Status() == audio.StatusRecording {
		if err := s.recorder.Pause(); err != nil {
			return fmt.Errorf("pause recording: %w", err)
		}
	}
	if err := s.updateSession(ctx, c); err != nil {
		return err
	}
	if mode == TurnDetectionServerVAD && s.recorder.Status() != audio.StatusRecording {
		if err := s.recorder.Record(s.onFrame); err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
	}
	return nil
}

func (s *Session) requireConnected() error {
	if st := s.State(); st != StateConnected {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, st)
	}
	return nil
}

// send marshals evt and queues it on the socket.
func (s *Session) send(evt any) error {
	s.mu.RLock()
	c := s.conn
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("%w: not connected", ErrInvalidState)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return c.WriteText(data)
}

func newItemID() string {
	id, err := nanoid.New()
	if err != nil {
		panic(err)
	}
	return "item_" + id
}

func (s *Session) createResponse() error {
	return s.send(events.ResponseCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeResponseCreate),
	})
}

// SendUserMessage adds a user text message and asks for a response.
func (s *Session) SendUserMessage(text string) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	err := s.send(events.ConversationItemCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeConversationItemCreate),
		Item: events.ConversationItem{
			ID:   newItemID(),
			Type: string(conversation.TypeMessage),
			Role: string(conversation.RoleUser),
			Content: []events.ContentPart{
				{Type: events.ContentTypeInputText, Text: text},
			},
		},
	})
	if err != nil {
		return err
	}
	return s.createResponse()
}

// AppendInputAudio streams PCM16 mono 24 kHz audio to the server.
func (s *Session) AppendInputAudio(pcm []byte) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	s.mu.Lock()
	s.inputAudio = append(s.inputAudio, pcm...)
	if s.turnDetection == TurnDetectionNone {
		s.turnAudio = append(s.turnAudio, pcm...)
	}
	s.trimInputAudio()
	s.mu.Unlock()

	s.metrics.RecordAudio("in", len(pcm))
	return s.send(events.InputAudioBufferAppendEvent{
		BaseEvent: events.NewBaseEvent(events.TypeInputAudioBufferAppend),
		Audio:     base64.StdEncoding.EncodeToString(pcm),
	})
}

// inputRetention is how much input audio is kept outside of open speech
// windows, enough for the server's speech start to reach back into.
const inputRetention = 10 * time.Second

// trimInputAudio drops input audio no open or upcoming speech window can
// reference. The caller holds s.mu.
func (s *Session) trimInputAudio() {
	retain := int(inputRetention.Seconds()) * audio.SampleRate * audio.BytesPerSample
	if len(s.inputAudio) < 2*retain {
		return
	}
	cut := len(s.inputAudio) - retain
	if startMs, ok := s.conv.OpenSpeechStart(); ok {
		cut = min(cut, startMs*audio.SampleRate/1000*audio.BytesPerSample-s.inputOffset)
	}
	cut -= cut % audio.BytesPerSample
	if cut <= 0 {
		return
	}
	s.inputAudio = append([]byte(nil), s.inputAudio[cut:]...)
	s.inputOffset += cut
}

// resetInputAudio forgets all input audio. The caller holds s.mu.
func (s *Session) resetInputAudio() {
	s.inputAudio = nil
	s.inputOffset = 0
	s.turnAudio = nil
}

func (s *Session) onFrame(f audio.Frame) {
	if err := s.AppendInputAudio(f.PCM); err != nil {
		s.logger.Debug("dropped audio frame", slog.Any("err", err))
	}
}

// StartTurn starts recording a push to talk turn.
func (s *Session) StartTurn() error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if mode := s.TurnDetection(); mode != TurnDetectionNone {
		return fmt.Errorf("%w: turns are detected by the server (%s)", ErrInvalidState, mode)
	}
	return s.recorder.Record(s.onFrame)
}

// EndTurn stops recording, commits the recorded audio and requests a response.
func (s *Session) EndTurn() error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if mode := s.TurnDetection(); mode != TurnDetectionNone {
		return fmt.Errorf("%w: turns are detected by the server (%s)", ErrInvalidState, mode)
	}
	if s.recorder.Status() == audio.StatusRecording {
		if err := s.recorder.Pause(); err != nil {
			return fmt.Errorf("pause recording: %w", err)
		}
	}

	s.mu.Lock()
	turn := s.turnAudio
	s.turnAudio = nil
	s.mu.Unlock()

	if len(turn) > 0 {
		// queued before the commit so the item the server creates for it finds it
		s.conv.QueueInputAudio(turn)
		if err := s.send(events.InputAudioBufferCommitEvent{
			BaseEvent: events.NewBaseEvent(events.TypeInputAudioBufferCommit),
		}); err != nil {
			s.conv.DropQueuedInput()
			return err
		}
	}
	return s.createResponse()
}

// CancelResponse stops the current response. With a trackID it also
// truncates that assistant item at sampleOffset so the server's transcript
// matches what was actually played.
func (s *Session) CancelResponse(trackID string, sampleOffset int) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if trackID == "" {
		return s.send(events.ResponseCancelEvent{BaseEvent: events.NewBaseEvent(events.TypeResponseCancel)})
	}

	item, ok := s.conv.Item(trackID)
	if !ok {
		return fmt.Errorf("%w: %s", conversation.ErrUnknownItem, trackID)
	}
	if item.Role != conversation.RoleAssistant {
		return fmt.Errorf("can only cancel assistant messages, %s is %s", trackID, item.Role)
	}

	if err := s.send(events.ResponseCancelEvent{BaseEvent: events.NewBaseEvent(events.TypeResponseCancel)}); err != nil {
		return err
	}
	return s.send(events.ConversationItemTruncateEvent{
		BaseEvent:    events.NewBaseEvent(events.TypeConversationItemTruncate),
		ItemID:       trackID,
		ContentIndex: 0,
		AudioEndMs:   sampleOffset * 1000 / audio.SampleRate,
	})
}

// DeleteItem removes an item locally and, when connected, on the server.
// Deleting an unknown id is a no-op.
func (s *Session) DeleteItem(id string) bool {
	item, ok := s.conv.Item(id)
	if !ok || !s.conv.DeleteItem(id) {
		return false
	}
	if s.IsConnected() {
		if err := s.send(events.ConversationItemDeleteEvent{
			BaseEvent: events.NewBaseEvent(events.TypeConversationItemDelete),
			ItemID:    id,
		}); err != nil {
			s.logger.Warn("failed to delete item on server", slog.String("item", id), slog.Any("err", err))
		}
	}
	s.emit(Event{Kind: EventItemDeleted, Item: item})
	return true
}

// abortPendingConnect cancels a Connect that is still in its handshake.
func (s *Session) abortPendingConnect() {
	s.mu.RLock()
	abort := s.abortConnect
	s.mu.RUnlock()
	if abort != nil {
		abort()
	}
}

// Disconnect closes the session, aborting a Connect in progress.
// Conversation items are kept.
func (s *Session) Disconnect(ctx context.Context) error {
	s.abortPendingConnect()
	s.op.Lock()
	defer s.op.Unlock()
	return s.teardown(ctx)
}

// Reset disconnects and drops all conversation state: items, memory and the
// input audio buffer. A Connect in progress is aborted. Registered tools are
// kept.
func (s *Session) Reset(ctx context.Context) error {
	s.abortPendingConnect()
	s.op.Lock()
	defer s.op.Unlock()

	err := s.teardown(ctx)
	s.toolCalls.Wait()

	s.conv.Clear()
	s.memory.Reset()
	s.mu.Lock()
	s.resetInputAudio()
	s.mu.Unlock()
	return err
}

// teardown moves to disconnected and releases the devices and the socket.
// It is safe to call in any state.
func (s *Session) teardown(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	c := s.conn
	cancel := s.cancel
	s.state = StateDisconnected
	s.conn = nil
	s.cancel = nil
	s.handshake = nil
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if err := s.recorder.End(); err != nil {
		errs = append(errs, fmt.Errorf("end recording: %w", err))
	}
	s.player.Interrupt()
	if err := s.player.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close player: %w", err))
	}
	if c != nil {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	if prev == StateConnected {
		s.metrics.SetConnected(false)
		s.logger.Info("session disconnected")
		s.emit(Event{Kind: EventDisconnected})
	}
	return errors.Join(errs...)
}

// watch tears the session down when the server side closes the socket.
func (s *Session) watch(c conn, gen int) {
	<-c.Done()

	s.op.Lock()
	defer s.op.Unlock()

	s.mu.RLock()
	stale := s.gen != gen
	s.mu.RUnlock()
	if stale {
		return
	}
	s.logger.Warn("realtime connection closed")
	s.metrics.RecordError("connection_closed")
	if err := s.teardown(context.Background()); err != nil {
		s.logger.Debug("teardown after close", slog.Any("err", err))
	}
}
