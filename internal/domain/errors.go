package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type ErrorKind string

const (
	KindInvalid             ErrorKind = "invalid"
	KindInvalidRange        ErrorKind = "invalid_range"
	KindResourceUnavailable ErrorKind = "resource_unavailable"
	KindConflict            ErrorKind = "conflict"
	KindInsufficientFunds   ErrorKind = "insufficient_funds"
	KindNotFound            ErrorKind = "not_found"
	KindState               ErrorKind = "state"
	KindTransient           ErrorKind = "transient"
)

// Error is the typed failure returned across package boundaries.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare sentinels below by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInvalid             = &Error{Kind: KindInvalid}
	ErrInvalidRange        = &Error{Kind: KindInvalidRange}
	ErrResourceUnavailable = &Error{Kind: KindResourceUnavailable}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrState               = &Error{Kind: KindState}
	ErrTransient           = &Error{Kind: KindTransient}
)

// E builds a typed error.
func E(kind ErrorKind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap attaches a kind and op to an underlying error.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first typed error in the chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// PartialBatchError reports a recurring batch that stopped paying at FailedIndex.
// Occurrences before it stay confirmed; the rest were released.
type PartialBatchError struct {
	FailedIndex int
	Confirmed   []Booking
	Charged     decimal.Decimal
	Err         error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("recurring batch stopped at occurrence %d after %d confirmed (charged %s): %v",
		e.FailedIndex, len(e.Confirmed), e.Charged.String(), e.Err)
}

func (e *PartialBatchError) Unwrap() error { return e.Err }
