package api

import (
	"regexp"
)

// maxCallSIDLen bounds call ids accepted from webhooks and the admin API.
// Provider ids are 34 characters; the slack covers other id schemes.
const maxCallSIDLen = 64

// callSIDRe accepts the characters provider call ids are built from.
var callSIDRe = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// callStatuses are the values a logged call's status can hold.
var callStatuses = map[string]bool{
	"in-progress": true,
	"completed":   true,
	"busy":        true,
	"failed":      true,
	"no-answer":   true,
	"canceled":    true,
}

// terminalStatuses are the CallStatus values that end a call.
var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// validateCallSID checks a call id. Returns an error message if invalid,
// empty string if OK.
func validateCallSID(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxCallSIDLen {
		return field + " exceeds maximum length"
	}
	if !callSIDRe.MatchString(value) {
		return field + " contains invalid characters"
	}
	return ""
}

// validateStatusFilter checks an optional call status filter.
func validateStatusFilter(field, value string) string {
	if value == "" {
		return ""
	}
	if !callStatuses[value] {
		return field + " is not a known call status"
	}
	return ""
}
