package realtime

import (
	"errors"
	"fmt"
)

// ErrSkip marks an event that was dropped without producing operations.
var ErrSkip = errors.New("realtime: event skipped")

// SkipError describes why an event was dropped. Unknown is set when the event
// type is not one the normalizer understands, as opposed to a known type with
// missing or malformed fields.
type SkipError struct {
	EventType string
	Reason    string
	Unknown   bool
}

func (e *SkipError) Error() string {
	if e == nil {
		return ""
	}
	if e.EventType == "" {
		return fmt.Sprintf("skip event: %s", e.Reason)
	}
	return fmt.Sprintf("skip %s: %s", e.EventType, e.Reason)
}

func (e *SkipError) Unwrap() error { return ErrSkip }

func malformed(eventType, reason string) *SkipError {
	return &SkipError{EventType: eventType, Reason: reason}
}

func unknownType(eventType string) *SkipError {
	return &SkipError{EventType: eventType, Reason: "unknown event type", Unknown: true}
}
