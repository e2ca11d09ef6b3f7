package generation

import (
	"errors"
	"fmt"
)

// Kind classifies a generation failure so callers can pick a distinct,
// actionable message for each cause.
type Kind string

const (
	// KindTransport covers network errors and timeouts; the request may
	// never have reached the service.
	KindTransport Kind = "TRANSPORT"
	// KindServerRejected means the service answered with a non-2xx status
	// and a structured error message.
	KindServerRejected Kind = "SERVER_REJECTED"
	// KindNoUsableDescription means the response parsed fine but carried
	// no description for the requested kind and no fallback either.
	KindNoUsableDescription Kind = "NO_USABLE_DESCRIPTION"
)

// Error is the failure type returned by Client.Generate.
type Error struct {
	Kind    Kind
	Status  int // HTTP status when KindServerRejected, zero otherwise
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("generation %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the failure kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
