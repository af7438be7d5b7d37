package sse

import "fmt"

// InvalidJSONError means a data payload did not decode against the schema of
// its resolved event type. The event is dropped; the stream continues.
type InvalidJSONError struct {
	EventType string
	Err       error
}

func (e *InvalidJSONError) Error() string {
	return fmt.Sprintf("invalid JSON for event %q: %v", e.EventType, e.Err)
}

func (e *InvalidJSONError) Unwrap() error { return e.Err }

// MissingDataError means an explicit event type arrived with no data lines.
// Only done and ping are valid without data.
type MissingDataError struct {
	EventType string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing data for event type %q", e.EventType)
}
