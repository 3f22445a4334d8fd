package rlbridge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoffSucceedsEventually(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(5, time.Microsecond, errSockNotReady, func() error {
		attempts++
		if attempts < 3 {
			return errSockNotReady
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoffGivesUpAfterTries(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(3, time.Microsecond, errSockNotReady, func() error {
		attempts++
		return errSockNotReady
	})
	assert.ErrorIs(t, err, errSockNotReady)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoffStopsImmediatelyOnOtherError(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	err := retryWithBackoff(5, time.Microsecond, errSockNotReady, func() error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}
