package callback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, Base: 10 * time.Second, Max: time.Minute}

	assert.Equal(t, 10*time.Second, p.Delay(1))
	assert.Equal(t, 20*time.Second, p.Delay(2))
	assert.Equal(t, 40*time.Second, p.Delay(3))
	assert.Equal(t, time.Minute, p.Delay(4))
	assert.Equal(t, time.Minute, p.Delay(9))
}

func TestRetryPolicy_NextAttempt(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: time.Second, Max: time.Minute}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	next := p.NextAttempt(1, now)
	if assert.NotNil(t, next) {
		assert.Equal(t, now.Add(time.Second), *next)
	}

	next = p.NextAttempt(2, now)
	if assert.NotNil(t, next) {
		assert.Equal(t, now.Add(2*time.Second), *next)
	}

	assert.Nil(t, p.NextAttempt(3, now))
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()

	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 10*time.Second, p.Base)
	assert.Equal(t, 10*time.Minute, p.Max)
}
