package kyc

import (
	"errors"
	"fmt"
)

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrMissingDocument = errors.New("missing required document")
	ErrInvalidField    = errors.New("invalid field")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("object already exists")
)

type ValidationKind string

const (
	KindFileTooLarge    ValidationKind = "file_too_large"
	KindUnsupportedType ValidationKind = "unsupported_type"
	KindMissingDocument ValidationKind = "missing_document"
	KindInvalidField    ValidationKind = "invalid_field"
)

// ValidationError is bad input that the user can fix. It unwraps to the
// sentinel for its kind, so errors.Is(err, ErrFileTooLarge) works.
type ValidationError struct {
	Kind     ValidationKind
	Category Category
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Category != "":
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	default:
		return e.Message
	}
}

func (e *ValidationError) Unwrap() error {
	switch e.Kind {
	case KindFileTooLarge:
		return ErrFileTooLarge
	case KindUnsupportedType:
		return ErrUnsupportedType
	case KindMissingDocument:
		return ErrMissingDocument
	default:
		return ErrInvalidField
	}
}

func missingDocument(c Category) *ValidationError {
	return &ValidationError{Kind: KindMissingDocument, Category: c, Message: "document is required"}
}

// InvalidField reports a personal-details field that failed validation.
func InvalidField(field, message string) *ValidationError {
	return &ValidationError{Kind: KindInvalidField, Field: field, Message: message}
}

// UploadError is a transport failure or server rejection while storing a
// document.
type UploadError struct {
	Category Category
	Message  string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %s", e.Category, e.Message)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed write or read against the record store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NetworkError wraps a failed call to a remote collaborator.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
