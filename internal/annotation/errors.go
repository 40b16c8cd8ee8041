package annotation

import "fmt"

// ErrorKind is the closed set of reasons an annotation cannot be used as-is.
type ErrorKind int

const (
	// MissingFile means no annotation file exists for the image.
	MissingFile ErrorKind = iota + 1
	// ParseFailure means the file is unreadable or not a well-formed annotation document.
	ParseFailure
	// MissingField means a required top-level field or geometry payload is absent.
	MissingField
	// UnknownLabelClass means a label references a class or geometry the project meta does not declare.
	UnknownLabelClass
)

// String returns the kind name used in grouped warnings.
func (k ErrorKind) String() string {
	switch k {
	case MissingFile:
		return "missing annotation file"
	case ParseFailure:
		return "malformed annotation"
	case MissingField:
		return "missing field"
	case UnknownLabelClass:
		return "unknown label class"
	default:
		return "unknown"
	}
}

// ValidationError describes why one annotation file was rejected.
type ValidationError struct {
	Kind ErrorKind
	// Field names the missing field for MissingField, or the class title for UnknownLabelClass.
	Field string
	// Detail carries the underlying parser message, if any. It is not part of the group key.
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg = fmt.Sprintf("%s '%s'", msg, e.Field)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

// GroupKey identifies failures that share a cause. Files are reported once per key.
func (e *ValidationError) GroupKey() string {
	if e.Field == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s '%s'", e.Kind.String(), e.Field)
}

func missingFile() *ValidationError {
	return &ValidationError{Kind: MissingFile}
}

func parseFailure(err error) *ValidationError {
	return &ValidationError{Kind: ParseFailure, Detail: err.Error()}
}

func missingField(name string) *ValidationError {
	return &ValidationError{Kind: MissingField, Field: name}
}

func unknownClass(name, detail string) *ValidationError {
	return &ValidationError{Kind: UnknownLabelClass, Field: name, Detail: detail}
}
