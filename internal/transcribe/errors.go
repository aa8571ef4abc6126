package transcribe

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by *Error through errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrTransport  = errors.New("transport failed")
	ErrTimeout    = errors.New("timed out")
	ErrBackend    = errors.New("backend rejected job")
)

// ErrorKind is the category of a pipeline failure.
type ErrorKind string

const (
	// KindValidation is a local file rejected before any network call.
	KindValidation ErrorKind = "validation"
	// KindTransport is a failed network call at any pipeline step.
	KindTransport ErrorKind = "transport"
	// KindTimeout is a poll that reached its ceiling.
	KindTimeout ErrorKind = "timeout"
	// KindBackend is a job the backend reported as failed.
	KindBackend ErrorKind = "backend"
)

// Validation reasons.
const (
	ReasonUnsupportedType = "unsupported_type"
	ReasonFileTooLarge    = "file_too_large"
)

// Error is a structured pipeline failure. Message is safe to show to the user.
type Error struct {
	Kind       ErrorKind
	Reason     string // machine-readable, set for validation errors
	Op         string // failing step, e.g. "request_upload", "poll"
	Message    string
	StatusCode int // HTTP status when the failure carried a response
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is against the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrBackend:
		return e.Kind == KindBackend
	}
	return false
}

func validationError(reason, message string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Op: "validate", Message: message}
}

func transportError(op, message string, status int, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Message: message, StatusCode: status, Err: err}
}

// userMessage returns the message recorded on a failed file. Errors without a
// message of their own get fallback.
func userMessage(err error, fallback string) string {
	var te *Error
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	return fallback
}

func errorKind(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTransport
}
