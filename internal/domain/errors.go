package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a requested state change is not
	// an edge of the transition table for the lease's current state.
	ErrInvalidTransition = errors.New("invalid lease transition")

	// ErrConflict is returned to the loser of concurrent transition
	// attempts on the same lease.
	ErrConflict = errors.New("concurrent lease update conflict")

	ErrRateLimited  = errors.New("otp rate limit exceeded")
	ErrOTPExpired   = errors.New("otp challenge expired")
	ErrOTPExhausted = errors.New("otp attempt limit reached")
	ErrOTPMismatch  = errors.New("otp code mismatch")

	// ErrNotAuthorized is returned when signature capture is attempted
	// without a verified, still-valid challenge.
	ErrNotAuthorized = errors.New("signature capture not authorized")

	ErrAlreadySigned = errors.New("lease already has a captured signature")

	ErrIntegrityViolation = errors.New("signature integrity hash mismatch")

	ErrApprovalPending   = errors.New("lease already has a pending approval")
	ErrNoPendingApproval = errors.New("lease has no pending approval")
	ErrNoLandlord        = errors.New("lease has no landlord")
)
