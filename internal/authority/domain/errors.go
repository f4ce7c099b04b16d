package domain

import "errors"

var (
	// ErrRemoteUnavailable marks transient failures (timeouts, 5xx);
	// the caller retries on the next cycle.
	ErrRemoteUnavailable = errors.New("remote_unavailable")
	// ErrRemoteRejected marks a terminal authority-side rejection.
	ErrRemoteRejected = errors.New("remote_rejected")
	ErrInvalidConfig  = errors.New("invalid_config")
)
