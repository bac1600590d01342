package domain

import "errors"

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrProductUnavailable      = errors.New("product unavailable")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrPaymentRejected         = errors.New("payment rejected")
	ErrOrderNotFound           = errors.New("order not found")
	ErrShipmentNotFound        = errors.New("shipment not found")
	ErrInvalidTransition       = errors.New("invalid order state transition")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrImmutable is returned for any attempt to change or remove an audit entry.
	ErrImmutable = errors.New("audit entries are immutable")

	ErrCriticalCompensationFailure = errors.New("critical compensation failure")
)
