package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransientSurvivesWrapping(t *testing.T) {
	err := Transient(errors.New("connection reset"))
	assert.True(t, IsTransient(err))
	assert.True(t, IsTransient(fmt.Errorf("availability: %w", err)))
}

func TestTransientNilIsNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.False(t, IsTransient(nil))
}

func TestSentinelsAreNotTransient(t *testing.T) {
	for _, err := range []error{ErrAuthFailed, ErrBookingConflict, ErrCaptchaUnsolved, ErrBrowserSetup} {
		assert.False(t, IsTransient(err), err.Error())
	}
}

func TestSentinelMatchThroughWraps(t *testing.T) {
	err := fmt.Errorf("booking: %w", fmt.Errorf("%w: seat s-1", ErrBookingConflict))
	assert.ErrorIs(t, err, ErrBookingConflict)
	assert.NotErrorIs(t, err, ErrAuthFailed)
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSucceeded, StatusFailed, StatusStopped} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []Status{StatusIdle, StatusAuthenticating, StatusPolling, StatusCandidateFound, StatusBooking} {
		assert.False(t, s.Terminal(), s.String())
	}
}
