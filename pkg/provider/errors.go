package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass classifies a provider failure for retry logic.
type ErrorClass string

const (
	// ClassTransient marks failures that may succeed on retry: throttling,
	// network timeouts, eventual-consistency lag.
	ClassTransient ErrorClass = "transient"

	// ClassPermanent marks non-recoverable failures: invalid configuration,
	// policy denial, missing prerequisites.
	ClassPermanent ErrorClass = "permanent"
)

// Error is a classified provider failure.
type Error struct {
	Class      ErrorClass
	Kind       string
	Name       string
	Op         string
	RetryAfter time.Duration // optional backoff hint from the backend
	Err        error
}

func (e *Error) Error() string {
	if e.Kind != "" && e.Name != "" {
		return fmt.Sprintf("[%s] %s %s.%s: %v", e.Class, e.Op, e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Class, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure.
func NewTransient(op string, err error) *Error {
	return &Error{Class: ClassTransient, Op: op, Err: err}
}

// NewPermanent wraps err as a non-recoverable failure.
func NewPermanent(op string, err error) *Error {
	return &Error{Class: ClassPermanent, Op: op, Err: err}
}

// WithResource attaches the kind and assigned name to the error.
func (e *Error) WithResource(kind, name string) *Error {
	e.Kind = kind
	e.Name = name
	return e
}

// WithRetryAfter attaches a backend-supplied backoff hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class == ClassTransient
	}
	return false
}

// IsPermanent reports whether err is classified permanent.
func IsPermanent(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class == ClassPermanent
	}
	return false
}
