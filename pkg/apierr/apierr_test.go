package apierr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsRetryableByKind(t *testing.T) {
	assert.False(t, New(Validation, "bad input").Retryable)
	assert.True(t, New(Timeout, "timed out").Retryable)
	assert.True(t, New(RateLimited, "slow down").Retryable)
}

func TestWithRetryableOverridesDefault(t *testing.T) {
	err := New(Validation, "bad input").WithRetryable(true)
	assert.True(t, err.Retryable)
}

func TestAsMatchesKind(t *testing.T) {
	err := New(NotOwner, "lease reclaimed")
	assert.True(t, As(err, NotOwner))
	assert.False(t, As(err, Conflict))
	assert.False(t, As(nil, NotOwner))
}

func TestErrorStringIncludesCodeAndMessage(t *testing.T) {
	err := New(InvalidState, "job already terminal")
	assert.Equal(t, "invalid_state: job already terminal", err.Error())
}

func TestNewfFormats(t *testing.T) {
	err := Newf(Validation, "payload exceeds %d bytes", 1024)
	assert.Equal(t, "payload exceeds 1024 bytes", err.Message)
}
