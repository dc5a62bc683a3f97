package domain

import "errors"

var (
	// ErrPaymentRequired means the caller has no usable balance or free
	// try. Client-facing, never retried.
	ErrPaymentRequired = errors.New("payment required")

	// ErrInternalInconsistency means a decision reached the applier with
	// a mode it does not handle. Programming defect, surfaced as a
	// server-side failure.
	ErrInternalInconsistency = errors.New("inconsistent credits state")

	ErrInvalidSubject = errors.New("invalid subject")
)
