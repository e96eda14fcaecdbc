package query

import (
	"errors"
	"net/http"
)

// ErrorCode categorizes query failures.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the anchor entity of a query does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidArgument indicates an out-of-range parameter or a
	// malformed cursor or vector.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Error is returned by every query operation for caller-visible failures.
// Status is the HTTP status a transport layer should map it to.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func notFound(message string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: message, Status: http.StatusNotFound}
}

func invalidArgument(message string, details map[string]any) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: message, Status: http.StatusBadRequest, Details: details}
}

// CodeOf returns the query error code carried by err, or "".
func CodeOf(err error) ErrorCode {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND query error.
func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeNotFound
}

// IsInvalidArgument reports whether err is an INVALID_ARGUMENT query error.
func IsInvalidArgument(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeInvalidArgument
}
