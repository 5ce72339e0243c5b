package adapter

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedEvent = errors.New("adapter: unsupported event type")
	ErrUndetectedEvent  = errors.New("adapter: cannot determine event type")
)

// UnsupportedEventError is returned when an event type is not declared in
// SupportedEvents.
type UnsupportedEventError struct {
	EventType string
}

func (e *UnsupportedEventError) Error() string {
	return fmt.Sprintf("Unsupported event type: %s", e.EventType)
}

func (e *UnsupportedEventError) Is(target error) bool {
	return target == ErrUnsupportedEvent
}

func Unsupported(eventType string) error {
	return &UnsupportedEventError{EventType: eventType}
}

// TransformError wraps a payload that failed provider schema parsing. The
// message keeps the original cause.
type TransformError struct {
	Cause error
}

func (e *TransformError) Error() string {
	return "Failed to transform webhook: " + e.Cause.Error()
}

func (e *TransformError) Unwrap() error {
	return e.Cause
}

func TransformFailed(cause error) error {
	return &TransformError{Cause: cause}
}
