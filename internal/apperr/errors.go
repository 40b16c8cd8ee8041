// Package apperr classifies import failures by how far they propagate.
//
// Configuration and transfer errors abort the run. Structural and upload
// errors are recovered at the directory or project level and only surface
// in the run summary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the category of an import error.
type Kind string

const (
	KindConfig    Kind = "config"
	KindTransfer  Kind = "transfer"
	KindStructure Kind = "structure"
	KindUpload    Kind = "upload"
)

// Error is a categorized import error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Config creates a configuration error. Raised before any project data is transferred.
func Config(message string, cause error) *Error {
	return &Error{Kind: KindConfig, Message: message, Cause: cause}
}

// Transfer creates a transfer integrity error.
func Transfer(message string, cause error) *Error {
	return &Error{Kind: KindTransfer, Message: message, Cause: cause}
}

// Structure creates a structural error for a directory that cannot be used as-is.
func Structure(message string, cause error) *Error {
	return &Error{Kind: KindStructure, Message: message, Cause: cause}
}

// Upload creates a per-project upload error.
func Upload(message string, cause error) *Error {
	return &Error{Kind: KindUpload, Message: message, Cause: cause}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return IsKind(err, KindConfig) || IsKind(err, KindTransfer)
}
