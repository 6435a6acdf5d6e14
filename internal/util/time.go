package util

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the stored timestamp format. Fixed width keeps lexical order
// equal to chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// DayLayout is the calendar-day key used for meeting dates.
const DayLayout = "2006-01-02"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts the stored layout and any RFC 3339 variant.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(TimeLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

// NormalizeTime rewrites an accepted timestamp into TimeLayout.
func NormalizeTime(value string) (string, error) {
	t, err := ParseTime(value)
	if err != nil {
		return "", err
	}
	return FormatTime(t), nil
}

// DayKey is the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}
