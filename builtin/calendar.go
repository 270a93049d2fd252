package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/voiceagent-go/calendar"
	"github.com/codewandler/voiceagent-go/tool"
)

type eventSummary struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
}

func summarize(ev *calendar.Event) eventSummary {
	return eventSummary{
		ID:          ev.Id,
		Summary:     ev.Summary,
		Start:       calendar.TimeValue(ev.Start),
		End:         calendar.TimeValue(ev.End),
		Description: ev.Description,
	}
}

// timed parses an ISO time from the model into an event boundary.
func timed(cal *calendar.Client, s string) (*calendar.EventTime, error) {
	t, err := cal.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &calendar.EventTime{DateTime: calendar.FormatTime(t), TimeZone: cal.TimeZone()}, nil
}

// eventStart resolves the start of a listed event; all-day events start at
// midnight in the calendar's location.
func eventStart(cal *calendar.Client, ev *calendar.Event) (time.Time, bool) {
	if ev.Start == nil {
		return time.Time{}, false
	}
	if ev.Start.DateTime != "" {
		t, err := time.Parse(time.RFC3339, ev.Start.DateTime)
		return t, err == nil
	}
	if ev.Start.Date != "" {
		t, err := time.ParseInLocation(time.DateOnly, ev.Start.Date, cal.Location())
		return t, err == nil
	}
	return time.Time{}, false
}

// requireToken fails every call before its arguments are looked at when the
// calendar has no usable token.
func requireToken(cal *calendar.Client) tool.Option {
	return tool.WithGuard(func(context.Context) *tool.Failure {
		if _, err := cal.Token(); err != nil {
			f := tool.Fail(errNoToken)
			return &f
		}
		return nil
	})
}

// upstreamFailure logs the cause and returns the generic message the model sees.
func upstreamFailure(logger *slog.Logger, op string, err error) tool.Failure {
	logger.Error("calendar tool failed", slog.String("op", op), slog.Any("err", err))
	return tool.Fail("Failed to " + op)
}

type createEventArgs struct {
	EventName        string `json:"eventName"`
	EventDescription string `json:"eventDescription"`
	StartTime        string `json:"startTime"`
	EndTime          string `json:"endTime"`
}

func (a *createEventArgs) Validate() error {
	switch {
	case a.EventName == "":
		return errors.New("eventName is required")
	case a.StartTime == "":
		return errors.New("startTime is required")
	case a.EndTime == "":
		return errors.New("endTime is required")
	}
	return nil
}

type createEventResult struct {
	OK      bool   `json:"ok"`
	EventID string `json:"eventId"`
}

func CreateCalendarEvent(cal *calendar.Client, logger *slog.Logger) tool.Tool {
	def := tool.Function(
		"create_calendar_event",
		"Creates a new event in Google Calendar",
		tool.Properties{
			"eventName":        {Type: "string", Description: "Name/title of the calendar event"},
			"eventDescription": {Type: "string", Description: "Description of the calendar event"},
			"startTime":        {Type: "string", Description: "Start time of event in ISO format (e.g. 2024-03-20T15:00:00)"},
			"endTime":          {Type: "string", Description: "End time of event in ISO format (e.g. 2024-03-20T16:00:00)"},
		},
		"eventName", "eventDescription", "startTime", "endTime",
	)
	return tool.New(def, func(ctx context.Context, args createEventArgs) (any, error) {
		const op = "create calendar event"
		start, err := timed(cal, args.StartTime)
		if err != nil {
			return upstreamFailure(logger, op, err), nil
		}
		end, err := timed(cal, args.EndTime)
		if err != nil {
			return upstreamFailure(logger, op, err), nil
		}

		ev, err := cal.Insert(ctx, &calendar.Event{
			Summary:     args.EventName,
			Description: args.EventDescription,
			Start:       start,
			End:         end,
		})
		if err != nil {
			return upstreamFailure(logger, op, err), nil
		}
		return createEventResult{OK: true, EventID: ev.Id}, nil
	}, requireToken(cal))
}

type checkCalendarArgs struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (a *checkCalendarArgs) Validate() error {
	if a.StartTime == "" || a.EndTime == "" {
		return errors.New("start_time and end_time are required")
	}
	return nil
}

type checkCalendarResult struct {
	OK     bool           `json:"ok"`
	Events []eventSummary `json:"events"`
}

func CheckCalendar(cal *calendar.Client, logger *slog.Logger) tool.Tool {
	def := tool.Function(
		"check_calendar",
		"Check Google Calendar for events within a specified time range",
		tool.Properties{
			"start_time": {Type: "string", Description: `Start time in ISO format (e.g., "2023-04-20T09:00:00-07:00")`},
			"end_time":   {Type: "string", Description: `End time in ISO format (e.g., "2023-04-20T17:00:00-07:00")`},
		},
		"start_time", "end_time",
	)
	return tool.New(def, func(ctx context.Context, args checkCalendarArgs) (any, error) {
		const op = "check calendar events"
		from, err := cal.ParseTime(args.StartTime)
		if err != nil {
			return upstreamFailure(logger, op, err), nil
		}
		to, err := cal.ParseTime(args.EndTime)
		if err != nil {
			return upstreamFailure(logger, op, err), nil
		}

		events, err := cal.List(ctx, from, to)
		if err != nil {
			return upstreamFailure(logger, op, err), nil
		}

		out := make([]eventSummary, 0, len(events))
		for _, ev := range events {
			// the API also returns events that merely overlap the range
			start, ok := eventStart(cal, ev)
			if !ok || start.Before(from) || start.After(to) {
				continue
			}
			out = append(out, summarize(ev))
		}
		logger.Debug("calendar checked", slog.Int("listed", len(events)), slog.Int("kept", len(out)))
		return checkCalendarResult{OK: true, Events: out}, nil
	}, requireToken(cal))
}

type updateEventArgs struct {
	EventID     string `json:"event_id"`
	Summary     string `json:"summary,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Description string `json:"description,omitempty"`
}

func (a *updateEventArgs) Validate() error {
	if a.EventID == "" {
		return errors.New("event_id is required")
	}
	return nil
}

type updateEventResult struct {
	OK           bool         `json:"ok"`
	UpdatedEvent eventSummary `json:"updated_event"`
}

func UpdateCalendarEvent(cal *calendar.Client, logger *slog.Logger) tool.Tool {
	def := tool.Function(
		"update_calendar_event",
		"Update an existing Google Calendar event",
		tool.Properties{
			"event_id":    {Type: "string", Description: "ID of the event to update"},
			"summary":     {Type: "string", Description: "New event title"},
			"start_time":  {Type: "string", Description: "New start time in ISO format"},
			"end_time":    {Type: "string", Description: "New end time in ISO format"},
			"description": {Type: "string", Description: "New event description"},
		},
		"event_id",
	)
	return tool.New(def, func(ctx context.Context, args updateEventArgs) (any, error) {
		const op = "update calendar event"
		current, err := cal.Get(ctx, args.EventID)
		if err != nil {
			return upstreamFailure(logger, op, err), nil
		}

		// only the provided fields change; everything else is sent back as fetched
		if args.Summary != "" {
			current.Summary = args.Summary
		}
		if args.Description != "" {
			current.Description = args.Description
		}
		if args.StartTime != "" {
			if current.Start, err = timed(cal, args.StartTime); err != nil {
				return upstreamFailure(logger, op, fmt.Errorf("start: %w", err)), nil
			}
		}
		if args.EndTime != "" {
			if current.End, err = timed(cal, args.EndTime); err != nil {
				return upstreamFailure(logger, op, fmt.Errorf("end: %w", err)), nil
			}
		}

		ev, err := cal.Update(ctx, args.EventID, current)
		if err != nil {
			return upstreamFailure(logger, op, err), nil
		}
		return updateEventResult{OK: true, UpdatedEvent: summarize(ev)}, nil
	}, requireToken(cal))
}

type deleteEventArgs struct {
	EventID string `json:"event_id"`
}

func (a *deleteEventArgs) Validate() error {
	if a.EventID == "" {
		return errors.New("event_id is required")
	}
	return nil
}

type deleteEventResult struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func DeleteCalendarEvent(cal *calendar.Client, logger *slog.Logger) tool.Tool {
	def := tool.Function(
		"delete_calendar_event",
		"Delete a Google Calendar event",
		tool.Properties{
			"event_id": {Type: "string", Description: "ID of the event to delete"},
		},
		"event_id",
	)
	return tool.New(def, func(ctx context.Context, args deleteEventArgs) (any, error) {
		if err := cal.Delete(ctx, args.EventID); err != nil {
			return upstreamFailure(logger, "delete calendar event", err), nil
		}
		return deleteEventResult{
			OK:      true,
			Status:  "success",
			Message: fmt.Sprintf("Event with ID %s has been deleted", args.EventID),
		}, nil
	}, requireToken(cal))
}
