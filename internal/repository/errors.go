// Package repository holds the storage adapters (MySQL and Redis) and the
// sentinel errors they return.  Higher layers compare against these values
// with errors.Is to tell not-found from conflict from infrastructure failure.
package repository

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailExists     = errors.New("email already exists")
	ErrSessionNotFound = errors.New("session not found")
	// ErrStaleToken means the presented refresh hash is no longer the
	// session's current hash: somebody rotated it first.
	ErrStaleToken = errors.New("refresh token already rotated")

	ErrVehicleNotFound = errors.New("vehicle not found")
	ErrOrderNotFound   = errors.New("order not found")
	// ErrStaleStatus means the order moved on between read and write.
	ErrStaleStatus = errors.New("order status changed concurrently")

	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPendingPaymentExists means the order already has an in-flight payment.
	ErrPendingPaymentExists = errors.New("order has a pending payment")
	// ErrAlreadyPaid means the order already has a COMPLETED payment.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrDuplicateCompletion is the storage layer refusing a second
	// COMPLETED payment for one order.
	ErrDuplicateCompletion = errors.New("order already has a completed payment")
	// ErrIdempotencyKeyExists means the key is taken by another request.
	ErrIdempotencyKeyExists = errors.New("idempotency key exists")
)

// ErrAmountMismatch means a processor notification disagrees with the
// pending payment's amount or currency.
var ErrAmountMismatch = errors.New("payment amount mismatch")

// ErrOrderClosed means the order is in a terminal status and accepts no
// new payments.
var ErrOrderClosed = errors.New("order is closed")
