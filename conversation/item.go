package conversation

import (
	"slices"

	"github.com/codewandler/voiceagent-go/events"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type ItemType string

const (
	TypeMessage            ItemType = "message"
	TypeFunctionCall       ItemType = "function_call"
	TypeFunctionCallOutput ItemType = "function_call_output"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// Terminal reports whether no more deltas are accepted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusIncomplete
}

type ToolCall struct {
	Type      string
	Name      string
	CallID    string
	Arguments string
}

// Formatted accumulates the content of an item as deltas arrive.
type Formatted struct {
	Text       string
	Transcript string
	Audio      []byte // PCM16 mono
	Tool       *ToolCall
	Output     string
	File       []byte // WAV, set once the item completed with audio
}

type Item struct {
	ID        string
	Type      ItemType
	Role      Role
	Status    Status
	Content   []events.ContentPart
	Formatted Formatted

	// Truncated is set when the server cut the item's audio at AudioEndMs.
	Truncated  bool
	AudioEndMs int
}

// Delta is the incremental change applied to an item by one event.
type Delta struct {
	Text       string
	Transcript string
	Arguments  string
	Audio      []byte
}

func (i *Item) snapshot() Item {
	c := *i
	c.Content = slices.Clone(i.Content)
	// full slice expressions keep later appends on the live item out of view.
	c.Formatted.Audio = i.Formatted.Audio[:len(i.Formatted.Audio):len(i.Formatted.Audio)]
	c.Formatted.File = i.Formatted.File[:len(i.Formatted.File):len(i.Formatted.File)]
	if i.Formatted.Tool != nil {
		t := *i.Formatted.Tool
		c.Formatted.Tool = &t
	}
	return c
}

func newItem(wire events.ConversationItem) *Item {
	item := &Item{
		ID:     wire.ID,
		Type:   ItemType(wire.Type),
		Role:   Role(wire.Role),
		Status: Status(wire.Status),
	}
	if item.Status == "" {
		item.Status = StatusInProgress
	}

	for _, part := range wire.Content {
		item.Content = append(item.Content, part)
		switch part.Type {
		case events.ContentTypeInputText, events.ContentTypeText:
			item.Formatted.Text += part.Text
		case events.ContentTypeInputAudio, events.ContentTypeAudio:
			item.Formatted.Transcript += part.Transcript
		}
	}

	switch item.Type {
	case TypeFunctionCall:
		item.Formatted.Tool = &ToolCall{
			Type:      "function",
			Name:      wire.Name,
			CallID:    wire.CallID,
			Arguments: wire.Arguments,
		}
		if item.Role == "" {
			item.Role = RoleAssistant
		}
	case TypeFunctionCallOutput:
		item.Formatted.Output = wire.Output
		item.Formatted.Tool = &ToolCall{Type: "function", CallID: wire.CallID}
		item.Status = StatusCompleted
		if item.Role == "" {
			item.Role = RoleTool
		}
	}
	return item
}
