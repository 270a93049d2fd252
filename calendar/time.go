package calendar

import (
	"fmt"
	"strings"
	"time"
)

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 timestamps, or date-times without an offset
// which are read in the client's location.
func (c *Client) ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, c.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// FormatTime renders t as an RFC 3339 UTC timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// DatePart returns the calendar date of an ISO timestamp ("2024-03-20T10:00"
// yields "2024-03-20").
func DatePart(s string) string {
	date, _, _ := strings.Cut(strings.TrimSpace(s), "T")
	return date
}
