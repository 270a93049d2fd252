package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/voiceagent-go/calendar"
	"github.com/codewandler/voiceagent-go/tool"
)

var priorityEmoji = map[string]string{
	"high":   "🔴",
	"medium": "🟡",
	"low":    "🟢",
}

type taskArgs struct {
	TaskName    string `json:"task_name"`
	DueDate     string `json:"due_date"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

func (a *taskArgs) Validate() error {
	if a.TaskName == "" {
		return errors.New("task_name is required")
	}
	if calendar.DatePart(a.DueDate) == "" {
		return errors.New("due_date is required")
	}
	if a.Priority == "" {
		a.Priority = "medium"
	}
	if _, ok := priorityEmoji[a.Priority]; !ok {
		return fmt.Errorf("priority must be one of high, medium, low; got %q", a.Priority)
	}
	return nil
}

type taskSummary struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	DueDate     string `json:"due_date"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

type taskResult struct {
	OK   bool        `json:"ok"`
	Task taskSummary `json:"task"`
}

// CreateTaskEvent stores a task as a transparent all-day event on its due date.
func CreateTaskEvent(cal *calendar.Client, logger *slog.Logger) tool.Tool {
	def := tool.Function(
		"create_task_event",
		"Creates a new task event in Google Calendar",
		tool.Properties{
			"task_name":   {Type: "string", Description: "Name/title of the task"},
			"due_date":    {Type: "string", Description: "Due date for the task in ISO format (e.g. 2024-03-20)"},
			"description": {Type: "string", Description: "Description or details of the task"},
			"priority": {
				Type:        "string",
				Description: "Priority level (high, medium, low)",
				Enum:        []any{"high", "medium", "low"},
			},
		},
		"task_name", "due_date",
	)
	return tool.New(def, func(ctx context.Context, args taskArgs) (any, error) {
		date := calendar.DatePart(args.DueDate)
		emoji := priorityEmoji[args.Priority]
		ev, err := cal.Insert(ctx, &calendar.Event{
			Summary:      fmt.Sprintf("%s Task: %s", emoji, args.TaskName),
			Description:  fmt.Sprintf("%s\n\nPriority: %s %s\nStatus: ⬜ Not completed", args.Description, emoji, args.Priority),
			Start:        &calendar.EventTime{Date: date, TimeZone: cal.TimeZone()},
			End:          &calendar.EventTime{Date: date, TimeZone: cal.TimeZone()},
			Transparency: "transparent",
			ExtendedProperties: &calendar.ExtendedProperties{
				Private: map[string]string{
					"type":     "task",
					"priority": args.Priority,
					"status":   "not_completed",
				},
			},
		})
		if err != nil {
			return upstreamFailure(logger, "create task event", err), nil
		}
		if ev.Start != nil && ev.Start.Date != "" {
			date = ev.Start.Date
		}
		return taskResult{OK: true, Task: taskSummary{
			ID:          ev.Id,
			Summary:     ev.Summary,
			DueDate:     date,
			Description: ev.Description,
			Priority:    args.Priority,
		}}, nil
	}, requireToken(cal))
}
