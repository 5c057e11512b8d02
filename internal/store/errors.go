package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock available")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateLot      = errors.New("lot number already exists")
	ErrBatchInUse        = errors.New("stock batch is referenced by sales")
	ErrDuplicateSale     = errors.New("sale with this idempotency key already exists")
)

// ValidationError reports a client-caused input problem on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func Invalid(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StoreError wraps a failure of the underlying storage or transport. It may be
// transient; the engine never retries it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Wrap turns an unexpected driver error into a StoreError. Domain sentinels,
// validation errors and context errors pass through untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *StoreError
	var validationErr *ValidationError
	switch {
	case errors.As(err, &storeErr), errors.As(err, &validationErr):
		return err
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrDuplicateLot),
		errors.Is(err, ErrBatchInUse),
		errors.Is(err, ErrDuplicateSale),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &StoreError{Op: op, Err: err}
}
