package utils

import (
	"errors"
)

var (
	ErrBadRequest  = errors.New("Bad request")
	ErrNotFound    = errors.New("Not found")
	ErrParse       = errors.New("Parse error")
	ErrUnsupported = errors.New("Unsupported")
)

// An error carrying extra output, such as the stderr of a failed command.
type DetailedError interface {
	error
	Details() string
}

type detailedError struct {
	message string
	details string
}

func NewDetailedError(message, details string) error {
	return &detailedError{
		message: message,
		details: details,
	}
}

func (e *detailedError) Details() string {
	return e.details
}

func (e *detailedError) Error() string {
	return e.message
}

// Returns the details of err if any error in its chain carries them.
func ErrorDetails(err error) string {
	var detailed DetailedError
	if errors.As(err, &detailed) {
		return detailed.Details()
	}
	return ""
}
