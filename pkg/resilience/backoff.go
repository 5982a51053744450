package resilience

import "time"

// Backoff is a bounded polling schedule: Initial, growing by Multiplier up to
// Max. It has no jitter so poll timing stays predictable in tests.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Next returns the wait before poll number attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	d := b.Initial
	if d <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
