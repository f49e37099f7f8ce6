// Package apperr defines the tagged error type shared by the completion and
// caching pipeline. Every error that crosses a package boundary carries a Kind
// so callers can switch on it instead of probing concrete types.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the discriminant of an Error.
type Kind int

// Error kinds. KindUnknown is the zero value and is reported for errors that
// were not produced by this package.
const (
	KindUnknown Kind = iota
	KindValidation
	KindGeneration
	KindStorage
	KindTranscode
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindGeneration:
		return "generation"
	case KindStorage:
		return "storage"
	case KindTranscode:
		return "transcode"
	default:
		return "unknown"
	}
}

// Well-known error codes.
const (
	CodeInvalidJobID            = "INVALID_JOB_ID"
	CodeInvalidPrompt           = "INVALID_PROMPT"
	CodeNotFound                = "NOT_FOUND"
	CodeDownloadError           = "DOWNLOAD_ERROR"
	CodeAPIError                = "API_ERROR"
	CodeMissingAPIKey           = "MISSING_API_KEY"
	CodeCompletedUnretrievable  = "COMPLETED_BUT_UNRETRIEVABLE"
	CodeStorageWrite            = "STORAGE_WRITE"
	CodeStorageRead             = "STORAGE_READ"
	CodeStorageList             = "STORAGE_LIST"
	CodeTranscodeEngine         = "ENGINE_UNAVAILABLE"
	CodeTranscodeFailed         = "TRANSCODE_FAILED"
	CodeTranscodeInvalidProfile = "INVALID_PROFILE"
	CodePosterFailed            = "POSTER_FAILED"
)

// Error is the pipeline's error value.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int // upstream HTTP status, 0 for local failures
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, msg)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	if e.Err != nil && e.Message != "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the upstream status code, or 0 when there was none.
func (e *Error) HTTPStatus() int {
	return e.Status
}

// Validation returns a client-input error.
func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// Generation returns a provider error that keeps the provider's code.
func Generation(code, message string, status int, err error) *Error {
	if code == "" {
		code = CodeAPIError
	}
	return &Error{Kind: KindGeneration, Code: code, Message: message, Status: status, Err: err}
}

// Storage returns a cache or blob store failure.
func Storage(code, message string, err error) *Error {
	return &Error{Kind: KindStorage, Code: code, Message: message, Err: err}
}

// Transcode returns a codec failure.
func Transcode(code, message string, err error) *Error {
	return &Error{Kind: KindTranscode, Code: code, Message: message, Err: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given kind and code.
func Is(err error, kind Kind, code string) bool {
	e, ok := As(err)
	return ok && e.Kind == kind && e.Code == code
}
