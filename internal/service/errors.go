package service

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed or expired input synchronously;
// nothing reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError means no matching record for a key. Cancel paths treat it
// as idempotent success; accept paths treat it as a hard failure because
// it may signal a double-accept attempt.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return "no " + e.Entity + " found"
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConflictError rejects an operation that contradicts current state
// (self-trade, duplicate active bid, second active ERC-721 listing).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
