package exchange

import (
	"errors"
	"fmt"
)

// Code identifies an exchange error kind. Values are stable: they are
// persisted in receipts and returned by the API.
type Code uint32

const (
	CodeOK                Code = 0
	CodeUnauthorized      Code = 100
	CodeInvalidAmount     Code = 101
	CodeInvalidPrice      Code = 102
	CodeOrderNotFound     Code = 103
	CodeOrderNotActive    Code = 104
	CodeInsufficientFunds Code = 105
	CodeTransferFailed    Code = 106
	CodePaused            Code = 107
	CodeNotOwner          Code = 108
	CodeTooManyOrders     Code = 109
	CodeInvalidRecipient  Code = 110
	CodeAlreadyExists     Code = 111
	CodeInvalidOrderID    Code = 112
	CodeFeeTooHigh        Code = 113
	CodeInternal          Code = 500
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeUnauthorized:
		return "UNAUTHORIZED"
	case CodeInvalidAmount:
		return "INVALID_AMOUNT"
	case CodeInvalidPrice:
		return "INVALID_PRICE"
	case CodeOrderNotFound:
		return "ORDER_NOT_FOUND"
	case CodeOrderNotActive:
		return "ORDER_NOT_ACTIVE"
	case CodeInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case CodeTransferFailed:
		return "TRANSFER_FAILED"
	case CodePaused:
		return "PAUSED"
	case CodeNotOwner:
		return "NOT_OWNER"
	case CodeTooManyOrders:
		return "TOO_MANY_ORDERS"
	case CodeInvalidRecipient:
		return "INVALID_RECIPIENT"
	case CodeAlreadyExists:
		return "ALREADY_EXISTS"
	case CodeInvalidOrderID:
		return "INVALID_ORDER_ID"
	case CodeFeeTooHigh:
		return "FEE_TOO_HIGH"
	case CodeInternal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("CODE_%d", uint32(c))
	}
}

// Error is a typed exchange failure. Two errors match under errors.Is when
// their codes are equal, so callers can wrap them with context freely.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrUnauthorized      = &Error{Code: CodeUnauthorized, Msg: "unauthorized"}
	ErrInvalidAmount     = &Error{Code: CodeInvalidAmount, Msg: "invalid amount"}
	ErrInvalidPrice      = &Error{Code: CodeInvalidPrice, Msg: "invalid price"}
	ErrOrderNotFound     = &Error{Code: CodeOrderNotFound, Msg: "order not found"}
	ErrOrderNotActive    = &Error{Code: CodeOrderNotActive, Msg: "order not active"}
	ErrInsufficientFunds = &Error{Code: CodeInsufficientFunds, Msg: "insufficient funds"}
	ErrTransferFailed    = &Error{Code: CodeTransferFailed, Msg: "transfer failed"}
	ErrPaused            = &Error{Code: CodePaused, Msg: "exchange paused"}
	ErrNotOwner          = &Error{Code: CodeNotOwner, Msg: "caller is not the order owner"}
	ErrTooManyOrders     = &Error{Code: CodeTooManyOrders, Msg: "too many orders"}

	// Reserved kinds. InvalidRecipient and FeeTooHigh guard configuration
	// and admin inputs; the other two have no producer yet.
	ErrInvalidRecipient = &Error{Code: CodeInvalidRecipient, Msg: "invalid recipient"}
	ErrAlreadyExists    = &Error{Code: CodeAlreadyExists, Msg: "already exists"}
	ErrInvalidOrderID   = &Error{Code: CodeInvalidOrderID, Msg: "invalid order id"}
	ErrFeeTooHigh       = &Error{Code: CodeFeeTooHigh, Msg: "fee too high"}
)

// CodeOf returns the kind of err. Nil maps to CodeOK and errors outside the
// taxonomy map to CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// transferError keeps a typed ledger error as is and classifies anything
// else as TransferFailed.
func transferError(leg string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return fmt.Errorf("%s: %w", leg, err)
	}
	return fmt.Errorf("%s: %w: %v", leg, ErrTransferFailed, err)
}
