package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrStorage   = errors.New("storage failure")
	ErrInvalid   = errors.New("invalid input")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed input. Nothing is written when it is returned.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// NotFoundError reports a missing game or review.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AuthorizationError reports a mutation attempted by someone other than the
// review's author.
type AuthorizationError struct {
	Action   string
	ReviewID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not allowed to %s review %s", e.Action, e.ReviewID)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrForbidden }

// StorageError wraps a failure of the underlying store. The whole operation
// it belongs to has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// AsStorage wraps err as a StorageError unless it already carries one of the
// typed errors above.
func AsStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *ValidationError
		ne *NotFoundError
		ae *AuthorizationError
		se *StorageError
	)
	if errors.As(err, &ve) || errors.As(err, &ne) || errors.As(err, &ae) || errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
