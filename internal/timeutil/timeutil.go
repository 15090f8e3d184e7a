package timeutil

import (
	"errors"
	"strings"
	"time"
)

// InvalidDate is shown in place of a timestamp that cannot be parsed.
const InvalidDate = "Invalid Date"

// DisplayLayout renders dates as e.g. "1 Jan 2024, 05:30 am".
const DisplayLayout = "2 Jan 2006, 03:04 pm"

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC1123Z,
	time.RFC1123,
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp accepts ISO 8601 timestamps with or without a zone. Values
// without a zone are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, errors.New("timestamp is required")
	}
	for _, layout := range zonedLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed, nil
		}
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, errors.New("invalid timestamp")
}

// FormatDisplay renders value in loc using DisplayLayout. Unparsable input
// yields InvalidDate.
func FormatDisplay(value string, loc *time.Location) string {
	parsed, err := ParseTimestamp(value)
	if err != nil {
		return InvalidDate
	}
	if loc == nil {
		loc = time.UTC
	}
	return parsed.In(loc).Format(DisplayLayout)
}
