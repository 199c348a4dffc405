package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for outcomes the worker reacts to by kind rather than
// by message. Matched with errors.Is through any number of wraps.
var (
	// ErrAuthFailed is a rejected login. Not retryable within a run.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrBookingConflict means the seat was taken by a concurrent buyer
	// between discovery and booking. Recoverable, does not count against
	// the retry budget.
	ErrBookingConflict = errors.New("seat no longer available")

	// ErrCaptchaUnsolved aborts a single booking attempt, not the run.
	ErrCaptchaUnsolved = errors.New("captcha unsolved")

	// ErrBrowserSetup means the browser session never started. Fatal for
	// the worker, nothing to clean up.
	ErrBrowserSetup = errors.New("browser setup failed")
)

// TransientError marks a network-level failure (timeout, connection
// reset) that is worth retrying with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
