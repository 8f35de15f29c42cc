package checkout

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes order failures.
type ErrorCode string

const (
	// ErrCodeNotAuthenticated indicates no user is signed in.
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"

	// ErrCodeEmptyCart indicates checkout of a cart with no items.
	ErrCodeEmptyCart ErrorCode = "EMPTY_CART"

	// ErrCodeStoreUnavailable indicates the replica could not be written.
	// Nothing was recorded; the sale may be retried.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrCodePartialMutation indicates the order group could not be verified
	// as fully applied after commit.
	ErrCodePartialMutation ErrorCode = "PARTIAL_MUTATION_FAILURE"

	// ErrCodeInvalidPayment indicates a payment failed validation.
	ErrCodeInvalidPayment ErrorCode = "INVALID_PAYMENT"

	// ErrCodeOrderRejected indicates the replica refused the order group,
	// for example a reused order id. Retrying the same sale fails the same way.
	ErrCodeOrderRejected ErrorCode = "ORDER_REJECTED"
)

// Error is returned by every Coordinator operation.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsNotAuthenticated returns true if err is a NOT_AUTHENTICATED error.
func IsNotAuthenticated(err error) bool { return hasCode(err, ErrCodeNotAuthenticated) }

// IsEmptyCart returns true if err is an EMPTY_CART error.
func IsEmptyCart(err error) bool { return hasCode(err, ErrCodeEmptyCart) }

// IsStoreUnavailable returns true if err is a STORE_UNAVAILABLE error.
func IsStoreUnavailable(err error) bool { return hasCode(err, ErrCodeStoreUnavailable) }

// IsPartialMutation returns true if err is a PARTIAL_MUTATION_FAILURE error.
func IsPartialMutation(err error) bool { return hasCode(err, ErrCodePartialMutation) }

// IsInvalidPayment returns true if err is an INVALID_PAYMENT error.
func IsInvalidPayment(err error) bool { return hasCode(err, ErrCodeInvalidPayment) }

// IsOrderRejected returns true if err is an ORDER_REJECTED error.
func IsOrderRejected(err error) bool { return hasCode(err, ErrCodeOrderRejected) }

// Retryable reports whether the caller may safely retry the same sale. Only a
// store failure qualifies: nothing was written, and a retry allocates a new
// order id.
func Retryable(err error) bool {
	return IsStoreUnavailable(err)
}
