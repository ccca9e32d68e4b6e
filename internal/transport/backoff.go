package transport

import (
	"context"
	"time"
)

type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

var defaultBackoff = Backoff{
	Initial: 200 * time.Millisecond,
	Max:     10 * time.Second,
	Factor:  2,
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		d *= b.Factor
		if time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
