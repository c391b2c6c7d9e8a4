package engine

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownInstrument    = errors.New("unknown instrument")
	ErrInvalidSide          = errors.New("side must be BUY or SELL")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInvalidQuantity      = errors.New("quantity must be a whole number from 1 to 1000000000")
	ErrInvalidUser          = errors.New("username is required")
	ErrUnknownUser          = errors.New("user not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderNotOwned        = errors.New("order does not belong to user")
	ErrOrderWrongInstrument = errors.New("order does not rest in this instrument")
	ErrOrderNotCancellable  = errors.New("order cannot be cancelled")
)

// ValidationError is a recoverable rejection of a caller request. State is
// never modified when one is returned.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func reject(op string, err error) error {
	return &ValidationError{Op: op, Err: err}
}

// IsValidation reports whether err is a caller-facing rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvariantError signals a broken internal guarantee of the book or ledger.
// It is raised with panic, never returned.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}
