package errors

import (
	stderrors "errors"
)

type ErrorType string

const (
	ErrorTypeNotFound       ErrorType = "NOT_FOUND"
	ErrorTypeValidation     ErrorType = "VALIDATION"
	ErrorTypeInternal       ErrorType = "INTERNAL"
	ErrorTypeSnapshotFault  ErrorType = "SNAPSHOT_FAULT"
	ErrorTypeKeyUnavailable ErrorType = "KEY_UNAVAILABLE"
	ErrorTypeStoreIO        ErrorType = "STORE_IO"
	ErrorTypePackFormat     ErrorType = "PACK_FORMAT"
	ErrorTypeExecution      ErrorType = "EXECUTION"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Recoverable reports whether the failure only affects caching and must
// never fail work that would otherwise succeed.
func (e *Error) Recoverable() bool {
	switch e.Type {
	case ErrorTypeKeyUnavailable, ErrorTypeStoreIO, ErrorTypePackFormat:
		return true
	}
	return false
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: details,
	}
}

func Internal(message string, err error) *Error {
	return &Error{Type: ErrorTypeInternal, Message: message, Err: err}
}

// SnapshotFault reports an I/O failure while capturing a snapshot.
func SnapshotFault(message string, err error) *Error {
	return &Error{Type: ErrorTypeSnapshotFault, Message: message, Err: err}
}

// KeyUnavailable reports that no cache key could be derived for a unit of work.
func KeyUnavailable(message string, err error) *Error {
	return &Error{Type: ErrorTypeKeyUnavailable, Message: message, Err: err}
}

// StoreIO reports a result store read or write failure.
func StoreIO(message string, err error) *Error {
	return &Error{Type: ErrorTypeStoreIO, Message: message, Err: err}
}

// PackFormat reports a corrupt or mismatched packed entry.
func PackFormat(message string, err error) *Error {
	return &Error{Type: ErrorTypePackFormat, Message: message, Err: err}
}

// ExecutionFault wraps the failure of the real unit of work.
func ExecutionFault(message string, err error) *Error {
	return &Error{Type: ErrorTypeExecution, Message: message, Err: err}
}

// IsType reports whether any error in err's chain is an *Error of type t.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Err
	}
	return false
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.Is)
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
// (a shortcut to standard lib errors.As)
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
