package tcp

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// acceptRetries counts the delays unit, 2*unit, 4*unit, ... that stay within
// max. One more failure after the last of them is fatal.
func acceptRetries(unit, max time.Duration) uint64 {
	if unit <= 0 {
		return 0
	}
	var n uint64
	for d := unit; d <= max; d *= 2 {
		n++
	}
	return n
}

// newAcceptBackoff builds the deterministic doubling policy used between
// failed accepts. RetryNotify resets it, so every accept starts from unit.
func newAcceptBackoff(unit, max time.Duration) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     unit,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	return backoff.WithMaxRetries(exp, acceptRetries(unit, max))
}
