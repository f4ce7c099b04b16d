package domain

import "errors"

var (
	// ErrSequenceExhausted means no authorized range covers the next
	// folio; the counter is not consumed.
	ErrSequenceExhausted = errors.New("sequence_exhausted")
	// ErrNoAuthorizationAvailable means no CAF range contains the
	// requested folio.
	ErrNoAuthorizationAvailable = errors.New("no_authorization_available")
	// ErrAuthorizationExpired means a CAF covers the folio but its
	// validity window has passed.
	ErrAuthorizationExpired = errors.New("authorization_expired")
	ErrNotFound             = errors.New("not_found")
	ErrInvalidCAF           = errors.New("invalid_caf")
	// ErrCAFMismatch means the uploaded CAF belongs to another issuer
	// or document class than the owning sequence.
	ErrCAFMismatch = errors.New("caf_mismatch")
)
