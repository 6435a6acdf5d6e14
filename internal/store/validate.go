package store

import (
	"slices"
	"strings"

	"teamsync/api/internal/util"
)

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, "is required")
	}
	return nil
}

func oneOf(field, value string, allowed []string) error {
	if !slices.Contains(allowed, value) {
		return invalid(field, "must be one of "+strings.Join(allowed, ", "))
	}
	return nil
}

// timestamp normalizes an optional timestamp field in place.
func timestamp(field string, value *string) error {
	if value == nil || *value == "" {
		return nil
	}
	normalized, err := util.NormalizeTime(*value)
	if err != nil {
		return invalid(field, "must be an ISO-8601 timestamp")
	}
	*value = normalized
	return nil
}

// window checks end >= start when both are set. Both must already be
// normalized.
func window(startField, start, endField, end string) error {
	if start == "" || end == "" {
		return nil
	}
	if end < start {
		return invalid(endField, "must not be before "+startField)
	}
	return nil
}
