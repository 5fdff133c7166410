// Package engine holds the pieces shared by every application kind: the
// error taxonomy, the kind adapter contracts, and the call sequencer that
// serializes state mutations.
package engine

import "errors"

// Admission errors. Rejected at submit/resubmit; the applicant can retry
// with corrected input.
var (
	ErrInsufficientFee       = errors.New("insufficient fee")
	ErrPaymentMethodDisabled = errors.New("payment method disabled")
	ErrMixedCurrencyPayment  = errors.New("mixed currency payment")
)

// Authorization errors. The caller lacks the role or slot; the correct
// principal can retry.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotLocked    = errors.New("caller holds no locked slot")
)

// State errors. Stale or duplicate actions, surfaced to the caller and never
// retried automatically.
var (
	ErrApplicationNotOpen = errors.New("application not open")
	ErrSlotAlreadyTaken   = errors.New("slot already taken")
	ErrUnknownProposal    = errors.New("unknown proposal")
	ErrNotEligible        = errors.New("not eligible for reward")
	ErrAlreadyPaid        = errors.New("reward already paid")
	ErrNotResolved        = errors.New("application not resolved")
	ErrAlreadyReverted    = errors.New("application already reverted")
)
