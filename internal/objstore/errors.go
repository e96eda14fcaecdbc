package objstore

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes object store integrity failures.
type ErrorCode string

const (
	// ErrCodePutFailed indicates an object could not be written.
	ErrCodePutFailed ErrorCode = "STORE_PUT_FAILED"

	// ErrCodeFetchFailed indicates stored bytes could not be read or parsed.
	ErrCodeFetchFailed ErrorCode = "STORE_FETCH_FAILED"

	// ErrCodeIDMismatch indicates a declared content id that does not match
	// the content. It is never corrected silently.
	ErrCodeIDMismatch ErrorCode = "STORE_ID_MISMATCH"
)

// ErrNotFound is returned when no object is stored under the requested id.
var ErrNotFound = errors.New("object not found")

// Error is a storage-boundary failure.
type Error struct {
	Code      ErrorCode
	Message   string
	ContentID string
	TxID      string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is (or wraps) an object store error with code.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

func putFailed(message string, err error) *Error {
	return &Error{Code: ErrCodePutFailed, Message: message, Err: err}
}

func fetchFailed(message, contentID, txID string, err error) *Error {
	return &Error{Code: ErrCodeFetchFailed, Message: message, ContentID: contentID, TxID: txID, Err: err}
}

func idMismatch(message, contentID, txID string) *Error {
	return &Error{Code: ErrCodeIDMismatch, Message: message, ContentID: contentID, TxID: txID}
}
