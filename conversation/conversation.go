// Package conversation keeps the ordered list of conversation items of a
// realtime session and applies the server's item lifecycle events to it.
//
// Conversation is the only writer of items. Every accessor returns
// snapshots; callers never see the live items.
package conversation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/codewandler/voiceagent-go/events"
)

var (
	ErrUnknownItem = errors.New("unknown item")
	ErrItemClosed  = errors.New("item already finished")
)

const bytesPerSample = 2

type speech struct {
	startMs int
	endMs   int
	stopped bool
	audio   []byte
}

type Conversation struct {
	mu         sync.Mutex
	sampleRate int
	items      []*Item
	byID       map[string]*Item

	// speech windows and transcripts may arrive before their item exists
	queuedSpeech      map[string]*speech
	queuedTranscripts map[string]string

	// committed push to talk turns waiting for their user audio item
	queuedInput [][]byte
}

func New(sampleRate int) *Conversation {
	if sampleRate <= 0 {
		sampleRate = 24_000
	}
	return &Conversation{
		sampleRate:        sampleRate,
		byID:              make(map[string]*Item),
		queuedSpeech:      make(map[string]*speech),
		queuedTranscripts: make(map[string]string),
	}
}

// Items returns the current items in insertion order.
func (c *Conversation) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.snapshot())
	}
	return out
}

func (c *Conversation) Item(id string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.byID[id]
	if !ok {
		return Item{}, false
	}
	return it.snapshot(), true
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// DeleteItem removes the item with the given id. It reports whether an item
// was removed; deleting an absent id is a no-op.
func (c *Conversation) DeleteItem(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remove(id)
}

func (c *Conversation) remove(id string) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	for i, it := range c.items {
		if it.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	return true
}

// Clear drops all items and queued state.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	clear(c.byID)
	clear(c.queuedSpeech)
	clear(c.queuedTranscripts)
	c.queuedInput = nil
}

// ItemCreated appends the item, or returns the existing one when the server
// announced it before (response.output_item.added precedes
// conversation.item.created for response items). created reports whether
// the item is new.
func (c *Conversation) ItemCreated(wire events.ConversationItem) (item Item, created bool, err error) {
	if wire.ID == "" {
		return Item{}, false, fmt.Errorf("item without id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byID[wire.ID]; ok {
		return existing.snapshot(), false, nil
	}

	it := newItem(wire)
	if sp, ok := c.queuedSpeech[it.ID]; ok {
		if len(sp.audio) > 0 {
			it.Formatted.Audio = sp.audio
		}
		delete(c.queuedSpeech, it.ID)
	}
	if len(it.Formatted.Audio) == 0 && len(c.queuedInput) > 0 && isUserAudio(it) {
		it.Formatted.Audio = c.queuedInput[0]
		c.queuedInput = c.queuedInput[1:]
	}
	if tr, ok := c.queuedTranscripts[it.ID]; ok {
		it.Formatted.Transcript = tr
		delete(c.queuedTranscripts, it.ID)
	}

	c.items = append(c.items, it)
	c.byID[it.ID] = it
	return it.snapshot(), true, nil
}

// ItemDeleted applies a server side deletion. Unknown ids are ignored.
func (c *Conversation) ItemDeleted(id string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.byID[id]
	if !ok {
		return Item{}, false
	}
	snap := it.snapshot()
	c.remove(id)
	return snap, true
}

// ItemTruncated records where the server cut the item's audio. Accumulated
// content is kept as is.
func (c *Conversation) ItemTruncated(id string, audioEndMs int) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.byID[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	it.Truncated = true
	it.AudioEndMs = audioEndMs
	return it.snapshot(), nil
}

// TranscriptionCompleted sets the transcript of a user audio item. When the
// item does not exist yet the transcript is queued for it.
func (c *Conversation) TranscriptionCompleted(id, transcript string) (Item, *Delta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if transcript == "" {
		transcript = " "
	}
	it, ok := c.byID[id]
	if !ok {
		c.queuedTranscripts[id] = transcript
		return Item{}, nil, false
	}
	if it.Formatted.Transcript == "" {
		it.Formatted.Transcript = transcript
	}
	return it.snapshot(), &Delta{Transcript: transcript}, true
}

func isUserAudio(it *Item) bool {
	if it.Role != RoleUser {
		return false
	}
	for _, part := range it.Content {
		if part.Type == events.ContentTypeInputAudio {
			return true
		}
	}
	return false
}

// QueueInputAudio holds the audio of a committed turn for the next user
// audio item the server creates.
func (c *Conversation) QueueInputAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuedInput = append(c.queuedInput, append([]byte(nil), pcm...))
}

// DropQueuedInput forgets queued turn audio and speech windows that no item
// claimed.
func (c *Conversation) DropQueuedInput() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuedInput = nil
	clear(c.queuedSpeech)
}

// OpenSpeechStart returns the start of the earliest speech window that has
// not stopped yet.
func (c *Conversation) OpenSpeechStart() (ms int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sp := range c.queuedSpeech {
		if sp.stopped {
			continue
		}
		if !ok || sp.startMs < ms {
			ms, ok = sp.startMs, true
		}
	}
	return ms, ok
}

// SpeechStarted opens a speech window for the upcoming user item.
func (c *Conversation) SpeechStarted(id string, audioStartMs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuedSpeech[id] = &speech{startMs: audioStartMs}
}

// SpeechStopped closes the speech window and cuts its audio out of input.
// offset is the position of input[0] in the input audio sent since the
// session started.
func (c *Conversation) SpeechStopped(id string, audioEndMs int, input []byte, offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sp, ok := c.queuedSpeech[id]
	if !ok {
		sp = &speech{}
		c.queuedSpeech[id] = sp
	}
	sp.endMs = audioEndMs
	sp.stopped = true

	start := c.msToByte(sp.startMs, offset, len(input))
	end := c.msToByte(sp.endMs, offset, len(input))
	if end > start {
		sp.audio = append([]byte(nil), input[start:end]...)
	}

	if it, ok := c.byID[id]; ok && len(it.Formatted.Audio) == 0 && len(sp.audio) > 0 {
		it.Formatted.Audio = sp.audio
		delete(c.queuedSpeech, id)
	}
}

// msToByte maps a position in the session's input audio to an index into a
// window of limit bytes starting at offset.
func (c *Conversation) msToByte(ms, offset, limit int) int {
	b := ms*c.sampleRate/1000*bytesPerSample - offset
	if b < 0 {
		return 0
	}
	if b > limit {
		return limit - limit%bytesPerSample
	}
	return b
}

// OutputItemDone sets the final status of a response item.
func (c *Conversation) OutputItemDone(wire events.ConversationItem) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.byID[wire.ID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownItem, wire.ID)
	}
	if wire.Status != "" {
		it.Status = Status(wire.Status)
	}
	if it.Formatted.Tool != nil && it.Type == TypeFunctionCall && it.Formatted.Tool.Arguments == "" {
		it.Formatted.Tool.Arguments = wire.Arguments
	}
	return it.snapshot(), nil
}

// ContentPartAdded appends a content part to the item.
func (c *Conversation) ContentPartAdded(id string, part events.ContentPart) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.byID[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	it.Content = append(it.Content, part)
	return it.snapshot(), nil
}

func (c *Conversation) TextDelta(id, delta string) (Item, *Delta, error) {
	return c.applyDelta(id, Delta{Text: delta})
}

func (c *Conversation) TranscriptDelta(id, delta string) (Item, *Delta, error) {
	return c.applyDelta(id, Delta{Transcript: delta})
}

func (c *Conversation) AudioDelta(id string, pcm []byte) (Item, *Delta, error) {
	return c.applyDelta(id, Delta{Audio: pcm})
}

func (c *Conversation) ArgumentsDelta(id, delta string) (Item, *Delta, error) {
	return c.applyDelta(id, Delta{Arguments: delta})
}

func (c *Conversation) applyDelta(id string, d Delta) (Item, *Delta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.byID[id]
	if !ok {
		return Item{}, nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	if it.Status.Terminal() {
		return it.snapshot(), nil, fmt.Errorf("%w: %s", ErrItemClosed, id)
	}

	it.Formatted.Text += d.Text
	it.Formatted.Transcript += d.Transcript
	if len(d.Audio) > 0 {
		it.Formatted.Audio = append(it.Formatted.Audio, d.Audio...)
	}
	if d.Arguments != "" {
		if it.Formatted.Tool == nil {
			it.Formatted.Tool = &ToolCall{Type: "function"}
		}
		it.Formatted.Tool.Arguments += d.Arguments
	}
	return it.snapshot(), &d, nil
}

// AttachFile stores the decoded playable file of a completed item.
func (c *Conversation) AttachFile(id string, file []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	if it.Status != StatusCompleted {
		return fmt.Errorf("item %s is %s", id, it.Status)
	}
	it.Formatted.File = file
	return nil
}
