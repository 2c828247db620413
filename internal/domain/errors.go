package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeSizeExceeded      ErrorType = "size_exceeded"
	ErrorTypePageLimitExceeded ErrorType = "page_limit_exceeded"
	ErrorTypeParse             ErrorType = "parse"
	ErrorTypeProvider          ErrorType = "provider"
	ErrorTypeRender            ErrorType = "render"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeConflict          ErrorType = "conflict"
	ErrorTypeConfig            ErrorType = "config"
	ErrorTypeIO                ErrorType = "io"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Typed is implemented by errors that belong to the domain taxonomy without
// being a *DomainError themselves (e.g. llm.ProviderError).
type Typed interface {
	ErrorType() ErrorType
}

// TypeOf walks the error chain and returns the first domain classification found.
func TypeOf(err error) (ErrorType, bool) {
	for err != nil {
		switch e := err.(type) {
		case *DomainError:
			return e.Type, true
		case Typed:
			return e.ErrorType(), true
		}
		err = errors.Unwrap(err)
	}
	return "", false
}

// IsType reports whether err carries the given classification.
func IsType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func SizeExceededError(size, limit int64) *DomainError {
	return NewError(ErrorTypeSizeExceeded,
		fmt.Sprintf("file is %d bytes, limit is %d bytes", size, limit), nil)
}

func PageLimitExceededError(pages, limit int) *DomainError {
	return NewError(ErrorTypePageLimitExceeded,
		fmt.Sprintf("document has %d pages, limit is %d", pages, limit), nil)
}

func ParseError(message string, err error) *DomainError {
	return NewError(ErrorTypeParse, message, err)
}

func RenderError(message string, err error) *DomainError {
	return NewError(ErrorTypeRender, message, err)
}

func NotFoundError(message string) *DomainError {
	return NewError(ErrorTypeNotFound, message, nil)
}

func ConflictError(message string) *DomainError {
	return NewError(ErrorTypeConflict, message, nil)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}
