package link

import "time"

// Backoff computes reconnect delays. Multiplier <= 1 gives a fixed Initial delay.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before reconnect attempt n (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	if attempt < 1 || b.Multiplier <= 1 {
		return b.Initial
	}

	limit := b.Max
	if limit < b.Initial {
		limit = b.Initial
	}

	delay := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		delay *= b.Multiplier
		if delay >= float64(limit) {
			return limit
		}
	}
	return time.Duration(delay)
}
