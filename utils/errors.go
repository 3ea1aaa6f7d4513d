package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can branch without string matching.
type ErrorKind string

const (
	// KindConflict is a business outcome: someone else owns the slot.
	KindConflict ErrorKind = "conflict"
	// KindExpired means the hold lapsed before the caller acted on it.
	KindExpired ErrorKind = "expired"
	// KindValidation covers malformed input and unknown references.
	KindValidation ErrorKind = "validation"
	// KindInfrastructure is a store, cache or network failure. It is retryable.
	KindInfrastructure ErrorKind = "infrastructure"
	// KindUnauthorized means the tenant credential could not be resolved.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindTransition is an invalid or lost state machine move.
	KindTransition ErrorKind = "transition"
)

// BookingError is the single error type crossing package boundaries.
type BookingError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *BookingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BookingError) Unwrap() error {
	return e.Err
}

// Is matches any BookingError of the same kind, so errors.Is(err, ErrConflict) works.
func (e *BookingError) Is(target error) bool {
	var t *BookingError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is checks.
var (
	ErrConflict       = &BookingError{Kind: KindConflict}
	ErrExpired        = &BookingError{Kind: KindExpired}
	ErrValidation     = &BookingError{Kind: KindValidation}
	ErrInfrastructure = &BookingError{Kind: KindInfrastructure}
	ErrUnauthorized   = &BookingError{Kind: KindUnauthorized}
	ErrTransition     = &BookingError{Kind: KindTransition}
)

func NewError(kind ErrorKind, message string, err error) *BookingError {
	return &BookingError{Kind: kind, Message: message, Err: err}
}

func Conflict(message string) *BookingError {
	return NewError(KindConflict, message, nil)
}

func Expired(message string) *BookingError {
	return NewError(KindExpired, message, nil)
}

func Validation(message string) *BookingError {
	return NewError(KindValidation, message, nil)
}

func Unauthorized(message string, err error) *BookingError {
	return NewError(KindUnauthorized, message, err)
}

func Infrastructure(message string, err error) *BookingError {
	return NewError(KindInfrastructure, message, err)
}

func Transition(message string) *BookingError {
	return NewError(KindTransition, message, nil)
}

// KindOf reports the kind of err. Errors that are not BookingErrors count as infrastructure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var be *BookingError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInfrastructure
}

func IsConflict(err error) bool       { return KindOf(err) == KindConflict }
func IsExpired(err error) bool        { return KindOf(err) == KindExpired }
func IsValidation(err error) bool     { return KindOf(err) == KindValidation }
func IsInfrastructure(err error) bool { return KindOf(err) == KindInfrastructure }
func IsUnauthorized(err error) bool   { return KindOf(err) == KindUnauthorized }
func IsTransition(err error) bool     { return KindOf(err) == KindTransition }
