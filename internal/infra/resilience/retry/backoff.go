package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// jitterFactor spreads each delay uniformly over ±25%.
const jitterFactor = 0.25

// ComputeDelay returns the wait before the attempt following attempt
// (1-based): min(InitialDelay * Multiplier^(attempt-1), MaxDelay), spread by
// ±25% when the policy has jitter. Negative configured delays count as 0 and
// a multiplier below 1 is treated as 1.
func ComputeDelay(attempt int, p Policy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := newBackOff(p)
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d < 0 {
		return 0
	}
	return d
}

func newBackOff(p Policy) *backoff.ExponentialBackOff {
	initial := max(p.InitialDelay, 0)
	maxDelay := max(p.MaxDelay, 0)
	if initial > maxDelay {
		initial = maxDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxDelay
	b.Multiplier = max(p.Multiplier, 1)
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = jitterFactor
	}
	b.Reset()
	return b
}
