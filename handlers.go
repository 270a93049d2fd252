package voiceagent

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"

	"github.com/codewandler/voiceagent-go/audio"
	"github.com/codewandler/voiceagent-go/conversation"
	"github.com/codewandler/voiceagent-go/events"
	"github.com/codewandler/voiceagent-go/tool"
)

// on parses data as T and hands it to f. Malformed events are logged and
// skipped; they never close the connection.
func on[T any](s *Session, data []byte, f func(evt *T)) {
	evt, err := events.Parse[T](data)
	if err != nil {
		s.logger.Error("failed to parse event", slog.Any("err", err))
		s.metrics.RecordError("parse")
		return
	}
	f(evt)
}

// handleMessage is the websocket text handler. It runs on a single
// goroutine, so server events are applied in arrival order.
func (s *Session) handleMessage(data []byte) error {
	env, err := events.ParseEnvelope(data)
	if err != nil {
		s.logger.Error("failed to parse event", slog.Any("err", err))
		s.metrics.RecordError("parse")
		return nil
	}
	s.metrics.RecordEvent(env.Type)

	switch env.Type {
	case events.TypeError:
		on(s, data, s.onServerError)
	case events.TypeSessionCreated, events.TypeSessionUpdated:
		s.logger.Debug("session acknowledged", slog.String("type", env.Type))
		s.signal(env.Type)
	case events.TypeInputAudioBufferSpeechStarted:
		on(s, data, s.onSpeechStarted)
	case events.TypeInputAudioBufferSpeechStopped:
		on(s, data, func(evt *events.SpeechStoppedEvent) {
			s.mu.RLock()
			input, offset := s.inputAudio, s.inputOffset
			s.mu.RUnlock()
			s.conv.SpeechStopped(evt.ItemID, evt.AudioEndMs, input, offset)
		})
	case events.TypeConversationItemCreated:
		on(s, data, func(evt *events.ConversationItemCreatedEvent) {
			s.onItemCreated(evt.Item)
		})
	case events.TypeResponseOutputItemAdded:
		on(s, data, func(evt *events.ResponseOutputItemAddedEvent) {
			s.onItemCreated(evt.Item)
		})
	case events.TypeConversationItemDeleted:
		on(s, data, func(evt *events.ConversationItemDeletedEvent) {
			if item, ok := s.conv.ItemDeleted(evt.ItemID); ok {
				s.emit(Event{Kind: EventItemDeleted, Item: item})
			}
		})
	case events.TypeConversationItemTruncated:
		on(s, data, func(evt *events.ConversationItemTruncatedEvent) {
			item, err := s.conv.ItemTruncated(evt.ItemID, evt.AudioEndMs)
			s.updated(item, nil, err)
		})
	case events.TypeInputAudioTranscriptionCompleted:
		on(s, data, func(evt *events.InputAudioTranscriptionCompletedEvent) {
			if item, delta, ok := s.conv.TranscriptionCompleted(evt.ItemID, evt.Transcript); ok {
				s.emit(Event{Kind: EventItemUpdated, Item: item, Delta: delta})
			}
		})
	case events.TypeResponseContentPartAdded:
		on(s, data, func(evt *events.ResponseContentPartAddedEvent) {
			item, err := s.conv.ContentPartAdded(evt.ItemID, evt.Part)
			s.updated(item, nil, err)
		})
	case events.TypeResponseTextDelta:
		on(s, data, func(evt *events.ResponseDeltaEvent) {
			s.updated(s.conv.TextDelta(evt.ItemID, evt.Delta))
		})
	case events.TypeResponseAudioTranscriptDelta:
		on(s, data, func(evt *events.ResponseDeltaEvent) {
			s.updated(s.conv.TranscriptDelta(evt.ItemID, evt.Delta))
		})
	case events.TypeResponseAudioDelta:
		on(s, data, s.onAudioDelta)
	case events.TypeResponseFunctionCallArgumentsDelta:
		on(s, data, func(evt *events.ResponseFunctionCallArgumentsDeltaEvent) {
			s.updated(s.conv.ArgumentsDelta(evt.ItemID, evt.Delta))
		})
	case events.TypeResponseOutputItemDone:
		on(s, data, func(evt *events.ResponseOutputItemDoneEvent) {
			s.onOutputItemDone(evt.Item)
		})
	default:
		s.logger.Debug("ignored event", slog.String("type", env.Type))
	}
	return nil
}

// updated emits an item update, or logs why the event did not apply.
func (s *Session) updated(item conversation.Item, delta *conversation.Delta, err error) {
	switch {
	case errors.Is(err, conversation.ErrItemClosed):
		s.logger.Debug("dropped late delta", slog.String("item", item.ID))
	case err != nil:
		s.logger.Warn("failed to apply event", slog.Any("err", err))
	default:
		s.emit(Event{Kind: EventItemUpdated, Item: item, Delta: delta})
	}
}

func (s *Session) onServerError(evt *events.ErrorEvent) {
	s.logger.Error("server error",
		slog.String("type", evt.ErrorDetail.Type),
		slog.String("code", evt.ErrorDetail.Code),
		slog.String("message", evt.ErrorDetail.Message),
	)
	s.metrics.RecordError("server")

	s.mu.RLock()
	h := s.onError
	s.mu.RUnlock()
	if h != nil {
		h(evt)
	}
	s.emit(Event{Kind: EventError, Err: evt})
}

// onSpeechStarted stops local playback when the user barges in and tells
// the server how much of the assistant's audio was heard.
func (s *Session) onSpeechStarted(evt *events.SpeechStartedEvent) {
	s.conv.SpeechStarted(evt.ItemID, evt.AudioStartMs)

	if off, ok := s.player.Interrupt(); ok {
		s.metrics.RecordInterruption()
		if err := s.CancelResponse(off.TrackID, off.Offset); err != nil {
			s.logger.Warn("failed to cancel response", slog.String("item", off.TrackID), slog.Any("err", err))
		}
	}
	s.emit(Event{Kind: EventInterrupted})
}

func (s *Session) onItemCreated(wire events.ConversationItem) {
	item, created, err := s.conv.ItemCreated(wire)
	if err != nil {
		s.logger.Warn("failed to add item", slog.Any("err", err))
		return
	}
	if !created {
		s.emit(Event{Kind: EventItemUpdated, Item: item})
		return
	}
	s.emit(Event{Kind: EventItemAppended, Item: item})
	if item.Status == conversation.StatusCompleted {
		s.completed(item)
	}
}

func (s *Session) onAudioDelta(evt *events.ResponseDeltaEvent) {
	pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
	if err != nil {
		s.logger.Error("failed to decode audio delta", slog.Any("err", err))
		return
	}
	item, delta, err := s.conv.AudioDelta(evt.ItemID, pcm)
	if err != nil {
		s.updated(item, delta, err)
		return
	}
	s.metrics.RecordAudio("out", len(pcm))
	if err := s.player.Add16BitPCM(pcm, evt.ItemID); err != nil {
		s.logger.Warn("failed to play audio", slog.Any("err", err))
	}
	s.emit(Event{Kind: EventItemUpdated, Item: item, Delta: delta})
}

func (s *Session) onOutputItemDone(wire events.ConversationItem) {
	item, err := s.conv.OutputItemDone(wire)
	if err != nil {
		s.logger.Warn("failed to finish item", slog.Any("err", err))
		return
	}
	s.emit(Event{Kind: EventItemUpdated, Item: item})
	if item.Status != conversation.StatusCompleted {
		return
	}
	s.completed(item)

	if item.Type == conversation.TypeFunctionCall && item.Formatted.Tool != nil {
		call := tool.Call{
			ID:        item.Formatted.Tool.CallID,
			Name:      item.Formatted.Tool.Name,
			Arguments: item.Formatted.Tool.Arguments,
		}
		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		if ctx == nil {
			return
		}
		s.toolCalls.Add(1)
		go s.callTool(ctx, call)
	}
}

// completed attaches the playable file to items that carry audio and emits
// the completion.
func (s *Session) completed(item conversation.Item) {
	if len(item.Formatted.Audio) > 0 {
		file, err := audio.DecodeWAV(item.Formatted.Audio, audio.SampleRate, audio.SampleRate)
		if err != nil {
			s.logger.Warn("failed to encode item audio", slog.String("item", item.ID), slog.Any("err", err))
		} else if err := s.conv.AttachFile(item.ID, file); err == nil {
			if fresh, ok := s.conv.Item(item.ID); ok {
				item = fresh
			}
		}
	}
	s.emit(Event{Kind: EventItemCompleted, Item: item})
}

// callTool runs a tool call off the event goroutine and returns its output
// to the model.
func (s *Session) callTool(ctx context.Context, call tool.Call) {
	defer s.toolCalls.Done()

	res := s.tools.Dispatch(ctx, call)
	s.metrics.RecordToolCall(call.Name, res.OK(), res.Duration)
	if !res.OK() {
		s.logger.Warn("tool call failed", slog.String("name", call.Name), slog.Any("err", res.Err))
	}
	if ctx.Err() != nil {
		return
	}

	err := s.send(events.ConversationItemCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeConversationItemCreate),
		Item: events.ConversationItem{
			ID:     newItemID(),
			Type:   string(conversation.TypeFunctionCallOutput),
			CallID: call.ID,
			Output: res.Output,
		},
	})
	if err == nil {
		err = s.createResponse()
	}
	if err != nil {
		s.logger.Warn("failed to send tool output", slog.String("name", call.Name), slog.Any("err", err))
	}
}
