package kernel

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes kernel validation failures.
type ErrorCode string

const (
	// ErrCodeSchemaInvalid indicates a shape violation or a missing discriminator.
	ErrCodeSchemaInvalid ErrorCode = "SCHEMA_INVALID"

	// ErrCodeInvariantViolation indicates a cross-field or referential rule was broken.
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"

	// ErrCodeCanonicalization indicates a value that has no canonical form.
	ErrCodeCanonicalization ErrorCode = "CANONICALIZATION_ERROR"

	// ErrCodeUnknownSchemaVersion indicates the type exists but not at this version.
	ErrCodeUnknownSchemaVersion ErrorCode = "UNKNOWN_SCHEMA_VERSION"

	// ErrCodeUnknownObjectType indicates an unregistered type discriminator.
	ErrCodeUnknownObjectType ErrorCode = "UNKNOWN_OBJECT_TYPE"

	// ErrCodeSignatureMissing indicates an unsigned object where a signature is required.
	ErrCodeSignatureMissing ErrorCode = "SIGNATURE_MISSING"

	// ErrCodeSignatureInvalid indicates a malformed or non-matching signature.
	ErrCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"

	// ErrCodeAuthorInvalid indicates a malformed author reference or key.
	ErrCodeAuthorInvalid ErrorCode = "AUTHOR_INVALID"
)

// Error is the error type returned by every kernel operation.
//
// Path is a JSON pointer into the offending object when one is known.
// Details carries validator-specific context (for example the endpoint ids
// of an edge whose referential types could not be resolved).
type Error struct {
	Code    ErrorCode
	Message string
	Path    string
	Details any
}

// Error renders as "CODE: message", the form recorded in ingest_error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newErrorAt(code ErrorCode, message, path string) *Error {
	return &Error{Code: code, Message: message, Path: path}
}

// CodeOf returns the kernel error code carried by err, or "" if err is not
// (and does not wrap) a kernel error.
func CodeOf(err error) ErrorCode {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

// IsCode reports whether err is a kernel error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsSchemaError reports whether err is any of the schema resolution or shape errors.
func IsSchemaError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeSchemaInvalid, ErrCodeUnknownObjectType, ErrCodeUnknownSchemaVersion:
		return true
	}
	return false
}

// IsSignatureError reports whether err came from signature verification.
func IsSignatureError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeSignatureMissing, ErrCodeSignatureInvalid, ErrCodeAuthorInvalid:
		return true
	}
	return false
}
