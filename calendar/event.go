package calendar

import gcal "google.golang.org/api/calendar/v3"

type (
	Event              = gcal.Event
	EventTime          = gcal.EventDateTime
	ExtendedProperties = gcal.EventExtendedProperties
)

// TimeValue returns DateTime, falling back to Date for all-day events.
func TimeValue(t *EventTime) string {
	if t == nil {
		return ""
	}
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}
