package webhook

import "time"

// BackoffStrategy computes the delay before a given retry attempt.
// Attempt numbering starts at 0 for the first redelivery.
type BackoffStrategy interface {
	NextInterval(attempt int) time.Duration
}

// FixedBackoff waits the same interval between every attempt. This is the
// delivery engine's default: failed deliveries are redelivered on a flat
// two-minute cadence.
type FixedBackoff struct {
	Interval time.Duration
}

func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if f.Interval <= 0 {
		return 2 * time.Minute
	}
	return f.Interval
}

// ExponentialBackoff doubles the interval on every attempt up to Max.
// Available for operators who prefer widening gaps over a flat cadence.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	initial := e.Initial
	if initial <= 0 {
		initial = time.Second
	}
	max := e.Max
	if max <= 0 {
		max = 30 * time.Minute
	}

	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

// DefaultBackoff returns the flat two-minute retry cadence.
func DefaultBackoff() BackoffStrategy {
	return FixedBackoff{Interval: 2 * time.Minute}
}
