package tracker

import (
	"errors"
	"fmt"

	"tenk/internal/imaging"
	"tenk/internal/vision"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the session's phase.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicate is returned by stores when a placement idempotency key was already recorded.
	ErrDuplicate = errors.New("placement already recorded")
	// ErrNoObjects is returned when detection produced no usable object names.
	ErrNoObjects = vision.ErrNoObjects
	// ErrVisionUnavailable is returned when no detector is configured.
	ErrVisionUnavailable = errors.New("vision detector not configured")
)

// Error kinds used to map failures to transport status codes.
const (
	KindValidation        = "validation"
	KindInvalidTransition = "invalid_transition"
	KindNotFound          = "not_found"
	KindDuplicate         = "duplicate"
	KindNoObjects         = "no_objects"
	KindUpstream          = "upstream"
	KindConfiguration     = "configuration"
	KindInternal          = "internal"
)

// ErrorClassifier allows errors to declare their classification for status mapping.
type ErrorClassifier interface {
	ErrorKind() string
}

// ValidationError reports bad user input for a named field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrorKind implements ErrorClassifier.
func (e *ValidationError) ErrorKind() string { return KindValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func transitionError(op string, phase Phase) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, phase)
}

// Kind classifies err into one of the Kind constants.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	var upstream *vision.UpstreamError
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, ErrNoObjects):
		return KindNoObjects
	case errors.Is(err, imaging.ErrUnsupportedFormat), errors.Is(err, imaging.ErrTooLarge):
		return KindValidation
	case errors.Is(err, ErrVisionUnavailable):
		return KindConfiguration
	case errors.As(err, &upstream):
		return KindUpstream
	}
	return KindInternal
}
