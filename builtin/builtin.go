// Package builtin provides the tools the voice agent registers by default:
// scratch memory and calendar management.
package builtin

import (
	"log/slog"

	"github.com/codewandler/voiceagent-go/calendar"
	"github.com/codewandler/voiceagent-go/memory"
	"github.com/codewandler/voiceagent-go/tool"
)

const errNoToken = "No authentication token found"

// All returns every builtin tool in registration order.
func All(store *memory.Store, cal *calendar.Client, logger *slog.Logger) []tool.Tool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return []tool.Tool{
		SetMemory(store),
		CreateCalendarEvent(cal, logger),
		CheckCalendar(cal, logger),
		UpdateCalendarEvent(cal, logger),
		DeleteCalendarEvent(cal, logger),
		CreateTaskEvent(cal, logger),
	}
}
