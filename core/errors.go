package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrQueueFull     = errors.New("outbound queue full")
	ErrDuplicateConn = errors.New("connection id already registered")
	ErrHubClosed     = errors.New("hub closed")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrInvalidFrame  = errors.New("invalid binary frame")
)

// ValidationError reports an inbound event that is missing required fields.
// It never changes state.
type ValidationError struct {
	Event  EventKind
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Event, e.Message())
}

// Message is the text sent back to the client.
func (e *ValidationError) Message() string {
	switch len(e.Fields) {
	case 0:
		return "invalid payload"
	case 1:
		return e.Fields[0] + " is required"
	}
	return strings.Join(e.Fields, " and ") + " are required"
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
