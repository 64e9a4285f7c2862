package callback

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxAttempts   = 5
	defaultBackoffBaseMs = 10_000
	defaultBackoffMaxMs  = 600_000
)

// RetryPolicy schedules resends with capped exponential backoff: base, 2*base, 4*base ... max.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Base <= 0 {
		p.Base = defaultBackoffBaseMs * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = defaultBackoffMaxMs * time.Millisecond
	}
	return p
}

// Delay is the wait before the attempt following attempts completed attempts.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	p = p.withDefaults()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	delay := p.Base
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// NextAttempt returns when to retry after attempts, or nil once the ceiling is reached.
func (p RetryPolicy) NextAttempt(attempts int, now time.Time) *time.Time {
	p = p.withDefaults()
	if attempts >= p.MaxAttempts {
		return nil
	}
	next := now.Add(p.Delay(attempts))
	return &next
}
