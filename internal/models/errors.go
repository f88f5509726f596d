package models

import "fmt"

// ValidationError reports a malformed request (missing payment method,
// unknown order type, negative amount and so on).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

// NotFoundError reports an unknown order/driver/customer.
type NotFoundError struct {
	Entity string
	ID     interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Entity, e.ID)
}

// ConflictError reports a failed status or capacity guard.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// PaymentDeclinedError reports a gateway rejection of an authorization
// or capture.
type PaymentDeclinedError struct {
	Gateway string
	Reason  string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("payment declined by %s: %s", e.Gateway, e.Reason)
}

// UnderpaidCompletionError reports a capture failure at or below the
// ceiling during completion; the transition does not proceed.
type UnderpaidCompletionError struct {
	OrderID int64
	Amount  int64
	Cause   error
}

func (e *UnderpaidCompletionError) Error() string {
	return fmt.Sprintf("completion capture failed for order %d (%d cents): %v", e.OrderID, e.Amount, e.Cause)
}

func (e *UnderpaidCompletionError) Unwrap() error {
	return e.Cause
}
