package realtime

import (
	"math/rand/v2"
	"time"
)

// DefaultReconnectDelay is the delay before the first reconnect attempt.
const DefaultReconnectDelay = 3 * time.Second

// Backoff computes reconnect delays. The first retry waits exactly Base;
// later retries double up to Max, spread by +/- Jitter (a fraction of the delay).
// With Max <= Base every retry waits Base.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before retry number attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultReconnectDelay
	}
	ceiling := b.Max
	if ceiling < base {
		ceiling = base
	}
	if attempt <= 0 || ceiling == base {
		return base
	}

	d := base
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return min(max(d, base), ceiling)
}
