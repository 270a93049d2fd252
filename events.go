package voiceagent

import "github.com/codewandler/voiceagent-go/conversation"

type EventKind int

const (
	EventItemAppended EventKind = iota + 1
	EventItemUpdated
	EventItemCompleted
	EventItemDeleted
	EventInterrupted
	EventError
	EventConnected
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventItemAppended:
		return "item.appended"
	case EventItemUpdated:
		return "item.updated"
	case EventItemCompleted:
		return "item.completed"
	case EventItemDeleted:
		return "item.deleted"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a notification to the host. Item is set for the item kinds,
// Delta only when the update carried one, Err for EventError.
type Event struct {
	Kind  EventKind
	Item  conversation.Item
	Delta *conversation.Delta
	Err   error
}
