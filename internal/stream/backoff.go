package stream

import "time"

// Backoff computes retry delays as min(Base * 2^n, Max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at one second and caps at thirty.
var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second}

// Delay returns the wait before retry n, where n counts previous failures
// starting at 0.
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if b.Base <= 0 {
		return 0
	}
	delay := b.Base
	for i := 0; i < n; i++ {
		if b.Max > 0 && delay >= b.Max {
			break
		}
		// stop doubling before overflow
		if delay > time.Duration(1<<62)/2 {
			break
		}
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}
