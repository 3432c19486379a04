package dispatch

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds transient dispatch failures. After MaxAttempts failed
// attempts at one node the enrollment fails.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy retries three times starting at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Minute,
		MaxInterval:     time.Hour,
		Multiplier:      2,
	}
}

// Exhausted reports whether attempts failed attempts use up the policy.
func (p RetryPolicy) Exhausted(attempts int) bool {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy().MaxAttempts
	}

	return attempts >= maxAttempts
}

// Delay returns the wait before the next attempt after attempt failures (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}

	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}

	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}

	return delay
}
